package resultcache

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/pricing"
)

// Fingerprint derives the cache key for one quote request. Boxes are
// sorted by value before encoding, so reordering equal-by-value entries
// never changes the key.
func Fingerprint(owner string, origin, dest geo.Pincode, mode string, invoiceValue float64, boxes []pricing.Box) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = "-"
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "-"
	}

	var b strings.Builder
	b.WriteString(quotePrefix)
	b.WriteString("v1:")
	b.WriteString(owner)
	b.WriteByte(':')
	b.WriteString(origin.String())
	b.WriteByte(':')
	b.WriteString(dest.String())
	b.WriteByte(':')
	b.WriteString(mode)
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(invoiceValue, 'f', -1, 64))
	b.WriteByte(':')
	b.Write(canonicalBoxes(boxes))
	return b.String()
}

// canonicalBoxes encodes boxes in a stable order. The struct tags fix the
// field order; the sort fixes the element order.
func canonicalBoxes(boxes []pricing.Box) []byte {
	sorted := make([]pricing.Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Length != b.Length {
			return a.Length < b.Length
		}
		if a.Width != b.Width {
			return a.Width < b.Width
		}
		if a.Height != b.Height {
			return a.Height < b.Height
		}
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		return a.Count < b.Count
	})
	out, err := json.Marshal(sorted)
	if err != nil {
		// NaN dimensions cannot encode; key them as an empty shipment
		return []byte("[]")
	}
	return out
}
