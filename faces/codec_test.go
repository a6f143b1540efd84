package faces

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDecode_JSONArrayAndCSV(t *testing.T) {
	cases := []struct {
		in       string
		expected []float64
	}{
		{"[0.1, -0.2, 3]", []float64{0.1, -0.2, 3}},
		{"0.1,-0.2,3", []float64{0.1, -0.2, 3}},
		{"  [1,2]  ", []float64{1, 2}},
		{" 1 , 2 ", []float64{1, 2}},
	}
	for _, tc := range cases {
		vec, err := Decode(tc.in)
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", tc.in, err)
		}
		if len(vec) != len(tc.expected) {
			t.Fatalf("Decode(%q) expected %d elements, got %d", tc.in, len(tc.expected), len(vec))
		}
		for i := range vec {
			if vec[i] != tc.expected[i] {
				t.Fatalf("Decode(%q)[%d] expected %v, got %v", tc.in, i, tc.expected[i], vec[i])
			}
		}
	}
}

func TestDecode_Invalid(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"[1, 2",
		"{\"a\": 1}",
		"1,two,3",
		"[]",
		"[1, null, 3]",
		"[null]",
		"[1, \"2\", 3]",
		"[1, true]",
	}
	for _, in := range cases {
		if _, err := Decode(in); !errors.Is(err, ErrInvalidDescriptorFormat) {
			t.Fatalf("Decode(%q) expected ErrInvalidDescriptorFormat, got %v", in, err)
		}
	}
}

func TestDecode_RejectsNonFinite(t *testing.T) {
	if err := Validate([]float64{1, math.NaN()}); !errors.Is(err, ErrInvalidDescriptorFormat) {
		t.Fatalf("expected ErrInvalidDescriptorFormat for NaN, got %v", err)
	}
	if err := Validate([]float64{math.Inf(1)}); !errors.Is(err, ErrInvalidDescriptorFormat) {
		t.Fatalf("expected ErrInvalidDescriptorFormat for +Inf, got %v", err)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	vec := make([]float64, DescriptorDim)
	for i := range vec {
		vec[i] = float64(i)*0.01 - 0.5
	}
	out, err := Decode(Encode(vec))
	if err != nil {
		t.Fatalf("Decode(Encode(vec)) error: %v", err)
	}
	if len(out) != len(vec) {
		t.Fatalf("round trip length mismatch: %d vs %d", len(out), len(vec))
	}
	for i := range vec {
		if out[i] != vec[i] {
			t.Fatalf("round trip element %d mismatch: %v vs %v", i, out[i], vec[i])
		}
	}
}

func TestDecodeRaw_StringAndArrayBodies(t *testing.T) {
	fromArray, err := DecodeRaw(json.RawMessage(`[0.5, 0.25]`))
	if err != nil {
		t.Fatalf("DecodeRaw(array) error: %v", err)
	}
	fromString, err := DecodeRaw(json.RawMessage(`"0.5,0.25"`))
	if err != nil {
		t.Fatalf("DecodeRaw(string) error: %v", err)
	}
	if len(fromArray) != 2 || len(fromString) != 2 || fromArray[1] != fromString[1] {
		t.Fatalf("array and string bodies decoded differently: %v vs %v", fromArray, fromString)
	}

	if _, err := DecodeRaw(nil); !errors.Is(err, ErrInvalidDescriptorFormat) {
		t.Fatalf("DecodeRaw(nil) expected ErrInvalidDescriptorFormat, got %v", err)
	}
	if _, err := DecodeRaw(json.RawMessage(`null`)); !errors.Is(err, ErrInvalidDescriptorFormat) {
		t.Fatalf("DecodeRaw(null) expected ErrInvalidDescriptorFormat, got %v", err)
	}
}
