package dispatcher

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The flex* types decode whatever the legacy payloads put in a field without
// ever failing: numbers may arrive as strings, strings as numbers, and
// anything missing or of the wrong kind becomes the zero value.

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = flexInt(int(flexNumber(b)))
	return nil
}

// flexMoney is an amount in đồng, rounded to the nearest unit.
type flexMoney int64

func (f *flexMoney) UnmarshalJSON(b []byte) error {
	*f = flexMoney(math.Round(flexNumber(b)))
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat(flexNumber(b))
	return nil
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*f = ""
			return nil
		}
		*f = flexString(strings.TrimSpace(s))
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*f = flexString(b)
	case string(b) == "true" || string(b) == "false":
		*f = flexString(b)
	default:
		*f = ""
	}
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*f = true
		return nil
	case "false", "0", "no", "", "null":
		*f = false
		return nil
	}
	*f = flexNumber(b) != 0
	return nil
}

func flexNumber(b []byte) float64 {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return 0
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err != nil {
			return 0
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
