// Package geo holds the pincode master data: the zone catalog used for rate
// lookups and the centroid catalog used for distance fallbacks and
// nearest-pincode search.
package geo

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPincode = errors.New("invalid pincode")
)

// Pincode is a postal identifier. Upstream payloads carry pincodes as both
// JSON strings and numbers; everything internal is this integer type.
type Pincode int

// The 6-digit pincode space. Range expansions clamp to these bounds.
const (
	MinPincode Pincode = 100000
	MaxPincode Pincode = 999999
)

// ParsePincode converts a string form ("110020", " 560060 ") to a Pincode.
func ParsePincode(s string) (Pincode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPincode)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPincode, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPincode, n)
	}
	return Pincode(n), nil
}

func (p Pincode) String() string {
	return strconv.Itoa(int(p))
}

// IsValid reports whether p looks like a real 6 digit Indian pincode.
func (p Pincode) IsValid() bool {
	return p >= MinPincode && p <= MaxPincode
}

// UnmarshalJSON accepts both `"110020"` and `110020`.
func (p *Pincode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: empty", ErrInvalidPincode)
	}
	s := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidPincode, s)
		}
		s = unquoted
	}
	// Numeric pincodes occasionally arrive as floats (110020.0).
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPincode, s)
	}
	n := int(f)
	if float64(n) != f || n <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPincode, s)
	}
	*p = Pincode(n)
	return nil
}

func (p Pincode) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(p))), nil
}
