package jobs

import (
	"fmt"
	"strings"
	"sync"
)

// Line is one captured console line tagged with its origin job.
type Line struct {
	JobID   string `json:"jobId"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	IsError bool   `json:"isError"`
}

// OutputSink is an append-only text channel a job's console output is
// routed through while it runs. Writes are split into lines, tagged
// with the job title and forwarded to the observer. After Detach,
// writes are silently dropped, so a completed job can never reach the
// observer again.
type OutputSink struct {
	mu       sync.Mutex
	jobID    string
	title    string
	forward  func(Line)
	pending  strings.Builder
	detached bool
}

// NewOutputSink creates a sink forwarding tagged lines to forward.
// A nil forward discards all output, used when logging is disabled.
func NewOutputSink(jobID, title string, forward func(Line)) *OutputSink {
	return &OutputSink{jobID: jobID, title: title, forward: forward}
}

// Write implements io.Writer, buffering partial lines until a newline.
func (s *OutputSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			s.emit(s.pending.String(), false)
			s.pending.Reset()
			continue
		}
		s.pending.WriteByte(b)
	}
	return len(p), nil
}

// Printf forwards one formatted progress line.
func (s *OutputSink) Printf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushPending()
	s.emit(fmt.Sprintf(format, a...), false)
}

// Errorf forwards one formatted error line.
func (s *OutputSink) Errorf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushPending()
	s.emit(fmt.Sprintf(format, a...), true)
}

// Detach flushes any partial line and stops forwarding. It is always
// called when the job reaches a terminal state, on every exit path.
func (s *OutputSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushPending()
	s.detached = true
}

// Detached reports whether the sink has been released.
func (s *OutputSink) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// flushPending emits a buffered partial line, if any. Callers hold mu.
func (s *OutputSink) flushPending() {
	if s.pending.Len() > 0 {
		s.emit(s.pending.String(), false)
		s.pending.Reset()
	}
}

// emit forwards one line. Callers hold mu.
func (s *OutputSink) emit(text string, isError bool) {
	if s.detached || s.forward == nil || text == "" {
		return
	}
	s.forward(Line{JobID: s.jobID, Title: s.title, Text: text, IsError: isError})
}
