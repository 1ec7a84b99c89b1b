package server

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"invoice-scanner/internal/parser"
)

// FlexAmount is an int64 that tolerates the mess clients actually
// send for money fields: JSON numbers, formatted strings like
// "45,000", null, negatives, or values too large for int64. Anything
// unusable decodes to 0.
type FlexAmount int64

func (a *FlexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = 0
			return nil
		}
		*a = FlexAmount(parser.NormalizeMoney(s))
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		*a = 0
		return nil
	}
	*a = FlexAmount(int64(f))
	return nil
}

func (a FlexAmount) Int64() int64 { return int64(a) }

// FlexID is an optional positive identifier that accepts numbers,
// numeric strings, and null. Zero, negatives and junk all decode to
// nil, matching the lenient category handling on the create path.
type FlexID struct {
	Value *int64
}

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	f.Value = nil
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = s
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	f.Value = &n
	return nil
}
