package jobs

import (
	"fmt"
	"testing"
)

// TestOutputSinkSplitsLines verifies partial writes buffer until newline.
func TestOutputSinkSplitsLines(t *testing.T) {
	var lines []Line
	sink := NewOutputSink("id-1", "refine", func(l Line) { lines = append(lines, l) })

	fmt.Fprint(sink, "first ")
	fmt.Fprint(sink, "half\nsecond\npart")
	if len(lines) != 2 {
		t.Fatalf("lines = %+v, want 2", lines)
	}
	if lines[0].Text != "first half" || lines[1].Text != "second" {
		t.Fatalf("lines = %+v", lines)
	}
	if lines[0].Title != "refine" || lines[0].JobID != "id-1" {
		t.Fatalf("tagging = %+v", lines[0])
	}

	sink.Detach()
	if len(lines) != 3 || lines[2].Text != "part" {
		t.Fatalf("detach should flush the partial line: %+v", lines)
	}
}

// TestOutputSinkErrorf verifies error lines are flagged.
func TestOutputSinkErrorf(t *testing.T) {
	var lines []Line
	sink := NewOutputSink("id-1", "refine", func(l Line) { lines = append(lines, l) })

	sink.Printf("progress %d%%", 50)
	sink.Errorf("phase %s failed", "ni")

	if len(lines) != 2 {
		t.Fatalf("lines = %+v", lines)
	}
	if lines[0].IsError || lines[0].Text != "progress 50%" {
		t.Fatalf("line 0 = %+v", lines[0])
	}
	if !lines[1].IsError || lines[1].Text != "phase ni failed" {
		t.Fatalf("line 1 = %+v", lines[1])
	}
}

// TestOutputSinkDropsAfterDetach verifies no forwarding after release.
func TestOutputSinkDropsAfterDetach(t *testing.T) {
	var lines []Line
	sink := NewOutputSink("id-1", "refine", func(l Line) { lines = append(lines, l) })

	sink.Detach()
	sink.Printf("late output")
	fmt.Fprintln(sink, "more late output")

	if len(lines) != 0 {
		t.Fatalf("lines = %+v, want none", lines)
	}
	if !sink.Detached() {
		t.Fatal("expected detached sink")
	}
}

// TestOutputSinkNilForwardDiscards verifies the disabled-logging path.
func TestOutputSinkNilForwardDiscards(t *testing.T) {
	sink := NewOutputSink("id-1", "refine", nil)
	sink.Printf("into the void")
	if _, err := fmt.Fprintln(sink, "ok"); err != nil {
		t.Fatalf("write: %v", err)
	}
}
