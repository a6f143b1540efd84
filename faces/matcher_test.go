package faces

import (
	"errors"
	"math"
	"testing"
)

func testVec(fill float64) []float64 {
	vec := make([]float64, DescriptorDim)
	for i := range vec {
		vec[i] = fill
	}
	return vec
}

func TestDistance_IdenticalIsZero(t *testing.T) {
	a := testVec(0.3)
	d, err := Distance(a, a)
	if err != nil {
		t.Fatalf("Distance error: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected distance 0 for identical vectors, got %v", d)
	}
}

func TestDistance_Symmetry(t *testing.T) {
	a := testVec(0.1)
	b := testVec(0.4)
	ab, err := Distance(a, b)
	if err != nil {
		t.Fatalf("Distance(a,b) error: %v", err)
	}
	ba, err := Distance(b, a)
	if err != nil {
		t.Fatalf("Distance(b,a) error: %v", err)
	}
	if ab != ba {
		t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestDistance_DimensionMismatch(t *testing.T) {
	if _, err := Distance([]float64{1, 2}, []float64{1, 2, 3}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFindBestMatch_EmptyCandidates(t *testing.T) {
	m := NewLinearMatcher(0.4, nil)
	res := m.FindBestMatch(testVec(0.1), nil)
	if res.Matched {
		t.Fatalf("expected no match on empty candidate set")
	}
	if !math.IsInf(res.Distance, 1) {
		t.Fatalf("expected +Inf distance on empty candidate set, got %v", res.Distance)
	}
}

func TestFindBestMatch_ExactMatchWins(t *testing.T) {
	probe := testVec(0.2)
	candidates := []Candidate{
		{EmployeeId: 1, Descriptor: Encode(testVec(0.21))},
		{EmployeeId: 2, Descriptor: Encode(probe)},
		{EmployeeId: 3, Descriptor: Encode(testVec(0.19))},
	}
	m := NewLinearMatcher(0.4, nil)
	res := m.FindBestMatch(probe, candidates)
	if !res.Matched || res.EmployeeId != 2 {
		t.Fatalf("expected employee 2 to match, got %+v", res)
	}
	if res.Distance != 0 {
		t.Fatalf("expected distance 0 for exact match, got %v", res.Distance)
	}
}

func TestFindBestMatch_AboveThresholdRejected(t *testing.T) {
	probe := testVec(0)
	candidates := []Candidate{
		{EmployeeId: 1, Descriptor: Encode(testVec(1))}, // distance sqrt(128) >> 0.4
	}
	m := NewLinearMatcher(0.4, nil)
	res := m.FindBestMatch(probe, candidates)
	if res.Matched {
		t.Fatalf("expected rejection above threshold, got %+v", res)
	}
	if res.EmployeeId != 0 {
		t.Fatalf("rejected result must not leak a candidate id, got %d", res.EmployeeId)
	}
	if math.IsInf(res.Distance, 1) {
		t.Fatalf("expected min distance found, got +Inf")
	}
}

func TestFindBestMatch_SkipsCorruptCandidates(t *testing.T) {
	probe := testVec(0.2)
	candidates := []Candidate{
		{EmployeeId: 1, Descriptor: "not a descriptor"},
		{EmployeeId: 2, Descriptor: "[1, 2, 3]"}, // dimension mismatch
		{EmployeeId: 3, Descriptor: Encode(probe)},
	}
	m := NewLinearMatcher(0.4, nil)
	res := m.FindBestMatch(probe, candidates)
	if !res.Matched || res.EmployeeId != 3 {
		t.Fatalf("corrupt candidates must not abort the search, got %+v", res)
	}
}

func TestFindBestMatch_FirstMinimumWinsTie(t *testing.T) {
	probe := testVec(0.2)
	same := Encode(probe)
	candidates := []Candidate{
		{EmployeeId: 7, Descriptor: same},
		{EmployeeId: 8, Descriptor: same},
	}
	m := NewLinearMatcher(0.4, nil)
	res := m.FindBestMatch(probe, candidates)
	if res.EmployeeId != 7 {
		t.Fatalf("expected first candidate to win the tie, got %d", res.EmployeeId)
	}
}

func TestHNSWMatcher_AgreesWithLinear(t *testing.T) {
	probe := testVec(0.2)
	candidates := []Candidate{
		{EmployeeId: 1, Descriptor: Encode(testVec(0.9))},
		{EmployeeId: 2, Descriptor: Encode(testVec(0.201))},
		{EmployeeId: 3, Descriptor: "corrupt"},
	}
	lin := NewLinearMatcher(0.4, nil).FindBestMatch(probe, candidates)
	idx := NewHNSWMatcher(0.4, nil).FindBestMatch(probe, candidates)
	if lin.Matched != idx.Matched || lin.EmployeeId != idx.EmployeeId {
		t.Fatalf("matchers disagree: linear=%+v hnsw=%+v", lin, idx)
	}
	if math.Abs(lin.Distance-idx.Distance) > 1e-9 {
		t.Fatalf("matcher distances diverge: %v vs %v", lin.Distance, idx.Distance)
	}
}

func TestHNSWMatcher_EmptyCandidates(t *testing.T) {
	res := NewHNSWMatcher(0.4, nil).FindBestMatch(testVec(0.1), nil)
	if res.Matched || !math.IsInf(res.Distance, 1) {
		t.Fatalf("expected no match with +Inf distance, got %+v", res)
	}
}
