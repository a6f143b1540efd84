package faces

import (
	"math"

	"github.com/coder/hnsw"
	"github.com/sirupsen/logrus"
)

const hnswMaxNeighbors = 16

// HNSWMatcher answers the same query as LinearMatcher through an HNSW graph.
// Candidates are still supplied fresh per call (enrollment snapshots are not
// cached across requests), so the graph is rebuilt each search; that only
// pays off once the roster outgrows a linear scan. Select with
// FACE_MATCHER=hnsw.
type HNSWMatcher struct {
	Threshold float64
	Logger    *logrus.Logger
}

func NewHNSWMatcher(threshold float64, logger *logrus.Logger) *HNSWMatcher {
	return &HNSWMatcher{Threshold: threshold, Logger: logger}
}

func (m *HNSWMatcher) FindBestMatch(probe []float64, candidates []Candidate) MatchResult {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	decoded := make(map[int][]float64, len(candidates))
	for _, c := range candidates {
		vec, err := Decode(c.Descriptor)
		if err != nil {
			m.logSkip(c.EmployeeId, err)
			continue
		}
		if len(vec) != len(probe) {
			m.logSkip(c.EmployeeId, ErrDimensionMismatch)
			continue
		}
		g.Add(hnsw.MakeNode(c.EmployeeId, toFloat32(vec)))
		decoded[c.EmployeeId] = vec
	}

	best := MatchResult{Distance: math.Inf(1)}
	neighbors := g.Search(toFloat32(probe), 1)
	if len(neighbors) > 0 {
		// Recompute the accepted distance in float64 so the threshold decision
		// is identical to the linear matcher's.
		if vec, ok := decoded[neighbors[0].Key]; ok {
			if d, err := Distance(probe, vec); err == nil {
				best.Distance = d
				best.EmployeeId = neighbors[0].Key
			}
		}
	}
	if best.Distance < m.Threshold {
		best.Matched = true
	} else {
		best.EmployeeId = 0
	}
	return best
}

func (m *HNSWMatcher) logSkip(employeeId int, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.WithFields(logrus.Fields{
		"module":      "faces",
		"funcName":    "HNSWMatcher.FindBestMatch",
		"employee_id": employeeId,
	}).Warn("skipping corrupt enrolled descriptor: " + err.Error())
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, f := range vec {
		out[i] = float32(f)
	}
	return out
}
