package faces

import (
	"errors"
	"math"

	"github.com/sirupsen/logrus"
)

// ErrDimensionMismatch means two descriptors of different lengths were
// compared. It indicates a corrupt enrollment; the matcher skips such
// candidates instead of failing the whole search.
var ErrDimensionMismatch = errors.New("descriptor dimension mismatch")

// Candidate is one enrolled descriptor in its stored wire form. Decoding
// happens inside the matcher so one corrupt row cannot abort the scan.
type Candidate struct {
	EmployeeId int
	Descriptor string
}

// MatchResult is the outcome of one recognition attempt. Matched=false means
// no candidate came in under the threshold; Distance then carries the minimum
// found (or +Inf for an empty candidate set) for diagnostics.
type MatchResult struct {
	EmployeeId int
	Distance   float64
	Matched    bool
}

// Matcher finds the enrolled employee closest to a probe descriptor. The
// interface exists so the linear scan can be swapped for an index without
// touching callers.
type Matcher interface {
	FindBestMatch(probe []float64, candidates []Candidate) MatchResult
}

// Distance returns the Euclidean distance between two descriptors.
func Distance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}

// LinearMatcher scans every candidate. The enrolled population is an HR
// roster, not millions of faces, so a full scan per request is fine.
type LinearMatcher struct {
	Threshold float64
	Logger    *logrus.Logger
}

func NewLinearMatcher(threshold float64, logger *logrus.Logger) *LinearMatcher {
	return &LinearMatcher{Threshold: threshold, Logger: logger}
}

func (m *LinearMatcher) FindBestMatch(probe []float64, candidates []Candidate) MatchResult {
	best := MatchResult{Distance: math.Inf(1)}
	for _, c := range candidates {
		vec, err := Decode(c.Descriptor)
		if err != nil {
			m.logSkip(c.EmployeeId, err)
			continue
		}
		d, err := Distance(probe, vec)
		if err != nil {
			m.logSkip(c.EmployeeId, err)
			continue
		}
		// Strict minimum: the first candidate achieving it wins, so iteration
		// order over candidates as supplied is the tie-break.
		if d < best.Distance {
			best.Distance = d
			best.EmployeeId = c.EmployeeId
		}
	}
	if best.Distance < m.Threshold {
		best.Matched = true
	} else {
		best.EmployeeId = 0
	}
	return best
}

func (m *LinearMatcher) logSkip(employeeId int, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.WithFields(logrus.Fields{
		"module":      "faces",
		"funcName":    "FindBestMatch",
		"employee_id": employeeId,
	}).Warn("skipping corrupt enrolled descriptor: " + err.Error())
}
