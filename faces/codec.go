// Package faces holds the face-descriptor codec and the matcher that decides
// which enrolled employee (if any) a probe descriptor belongs to.
package faces

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DescriptorDim is the enrollment dimensionality of the embedding model.
// Every stored descriptor has exactly this many elements.
const DescriptorDim = 128

// ErrInvalidDescriptorFormat marks descriptors that cannot be decoded into a
// finite, non-empty numeric vector. Client-fixable (400).
var ErrInvalidDescriptorFormat = errors.New("invalid descriptor format")

// Decode parses a descriptor from its wire form: a JSON array, or a legacy
// comma-separated numeric string. Older clients persisted both shapes, so
// both stay supported here as the single decode point.
func Decode(raw string) ([]float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidDescriptorFormat)
	}

	var vec []float64
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		// Unmarshal via json.Number so a null element fails instead of being
		// coerced to the float64 zero value.
		var nums []json.Number
		if err := json.Unmarshal([]byte(s), &nums); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptorFormat, err)
		}
		vec = make([]float64, 0, len(nums))
		for i, n := range nums {
			if n == "" {
				return nil, fmt.Errorf("%w: non-numeric element at index %d", ErrInvalidDescriptorFormat, i)
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: bad element %q", ErrInvalidDescriptorFormat, n.String())
			}
			vec = append(vec, f)
		}
	} else {
		parts := strings.Split(s, ",")
		vec = make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad element %q", ErrInvalidDescriptorFormat, strings.TrimSpace(p))
			}
			vec = append(vec, f)
		}
	}

	if err := Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// DecodeRaw decodes a descriptor field straight out of a JSON request body,
// where clients may send either an array or a string.
func DecodeRaw(raw json.RawMessage) ([]float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, fmt.Errorf("%w: missing descriptor", ErrInvalidDescriptorFormat)
	}
	if strings.HasPrefix(s, "\"") {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptorFormat, err)
		}
		return Decode(inner)
	}
	return Decode(s)
}

// Encode serializes a vector to the canonical persisted form (JSON array).
func Encode(vec []float64) string {
	b, err := json.Marshal(vec)
	if err != nil {
		// Finite float64 slices always marshal; non-finite values are rejected
		// by Validate before anything is encoded.
		return "[]"
	}
	return string(b)
}

// Validate rejects empty vectors and non-finite elements.
func Validate(vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidDescriptorFormat)
	}
	for i, f := range vec {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite element at index %d", ErrInvalidDescriptorFormat, i)
		}
	}
	return nil
}
