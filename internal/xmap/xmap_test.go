package xmap

import (
	"math"
	"testing"
)

// TestNavigationMaskComplement checks the mask excludes exactly the
// pixels not assigned to the requested phase.
func TestNavigationMaskComplement(t *testing.T) {
	m := New(2, 2, []Phase{{ID: 0, Name: "ni"}, {ID: 1, Name: "fe"}})
	m.PhaseID = []int{0, 1, 0, NotIndexed}

	mask := m.NavigationMask(0)
	want := []bool{false, true, false, true}
	for i := range want {
		if mask[i] != want[i] {
			t.Fatalf("mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}

	for i, id := range m.PhaseID {
		if mask[i] == (id == 0) {
			t.Fatalf("mask[%d] is not the complement of phase assignment", i)
		}
	}
}

// TestRotationMatrixIdentity checks zero Euler angles give identity.
func TestRotationMatrixIdentity(t *testing.T) {
	m := Rotation{}.Matrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(m[i][j]-want) > 1e-12 {
				t.Fatalf("m[%d][%d] = %f, want %f", i, j, m[i][j], want)
			}
		}
	}
}

// TestRotationApplyPreservesLength checks rotations are orthonormal.
func TestRotationApplyPreservesLength(t *testing.T) {
	r := Rotation{Phi1: 0.4, Phi: 1.1, Phi2: 2.3}
	v := r.Apply([3]float64{0.36, 0.48, 0.8})
	length := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if math.Abs(length-1.0) > 1e-12 {
		t.Fatalf("rotated length = %f, want 1", length)
	}
}

// TestCompositionCountsPhases checks fractions and not-indexed entry.
func TestCompositionCountsPhases(t *testing.T) {
	m := New(2, 2, []Phase{{ID: 0, Name: "ni"}})
	m.PhaseID = []int{0, 0, 0, NotIndexed}

	amounts := m.Composition()
	if len(amounts) != 2 {
		t.Fatalf("len = %d, want 2", len(amounts))
	}
	if amounts[0].Pixels != 3 || math.Abs(amounts[0].Fraction-0.75) > 1e-12 {
		t.Fatalf("ni amount = %+v, want 3 pixels at 0.75", amounts[0])
	}
	if amounts[1].Phase.Name != NotIndexedName || amounts[1].Pixels != 1 {
		t.Fatalf("not indexed amount = %+v", amounts[1])
	}
}

// TestValidateRejectsShapeMismatch checks storage length validation.
func TestValidateRejectsShapeMismatch(t *testing.T) {
	m := New(2, 2, nil)
	m.PhaseID = m.PhaseID[:3]
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

// TestCloneOwnsStorage checks mutating a clone leaves the source intact.
func TestCloneOwnsStorage(t *testing.T) {
	m := New(1, 2, []Phase{{ID: 0, Name: "ni"}})
	m.PhaseID[0] = 0
	m.Score(PrimaryScore)[0] = 0.9

	c := m.Clone()
	c.PhaseID[0] = NotIndexed
	c.Scores[PrimaryScore][0] = 0

	if m.PhaseID[0] != 0 || m.Scores[PrimaryScore][0] != 0.9 {
		t.Fatal("clone aliases source storage")
	}
}
