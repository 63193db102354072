package quote

import (
	"strings"

	"github.com/shipkaro/freightrate/pkg/registry"
)

// defaultFallbackVendors never lose the hot-switch merge. They are
// aggregator fallbacks expected to appear both as carrier files and as
// store documents, and both listings stay quotable.
var defaultFallbackVendors = []string{"wheelseye", "local ftl", "ftl transporter", "local-ftl"}

// Resolver decides which document-store carriers survive when a carrier
// file covers the same vendor. File-backed rates are the negotiated ones,
// so they override the store twin, matched by id or lowercased name.
type Resolver struct {
	fallbackVendors []string
}

// NewResolver builds a resolver with the given pass-through vendor names,
// or the defaults when none are given. Names are matched as lowercase
// substrings of the store carrier's name.
func NewResolver(fallbackVendors ...string) *Resolver {
	if len(fallbackVendors) == 0 {
		fallbackVendors = defaultFallbackVendors
	}
	lowered := make([]string, 0, len(fallbackVendors))
	for _, v := range fallbackVendors {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			lowered = append(lowered, v)
		}
	}
	return &Resolver{fallbackVendors: lowered}
}

// OverrideSet collects the identities of a file-backed cohort: each
// carrier's id and its lowercased company name.
func OverrideSet(entries []*registry.Entry) map[string]struct{} {
	set := make(map[string]struct{}, 2*len(entries))
	for _, e := range entries {
		set[e.ID()] = struct{}{}
		if name := strings.ToLower(strings.TrimSpace(e.Name())); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// Overridden reports whether the store carrier with this id and name is
// replaced by a file-backed twin. Fallback vendors always pass through.
func (r *Resolver) Overridden(set map[string]struct{}, id, name string) bool {
	if len(set) == 0 {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, v := range r.fallbackVendors {
		if strings.Contains(lower, v) {
			return false
		}
	}
	if _, ok := set[id]; ok {
		return true
	}
	_, ok := set[lower]
	return ok
}
