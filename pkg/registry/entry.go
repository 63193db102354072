package registry

import (
	"sort"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
)

// Entry is one compiled carrier: the parsed contract plus the serviceability
// indexes built against a master zone catalog snapshot. Entries are immutable
// once published; mutations compile a fresh Entry and swap it in.
type Entry struct {
	file   *carrier.File
	source string
	path   string
	strict bool

	served   map[geo.Pincode]struct{}
	explicit map[geo.Pincode]struct{}
	oda      map[geo.Pincode]struct{}

	// perZoneServed counts the pincodes each zone contributed after
	// exception subtraction; stats stamping reads it.
	perZoneServed map[string]int
}

// newEntry runs the index build. Pass 1 collects the exception set across
// every zone regardless of mode; pass 2 expands the served set per the zone's
// mode and subtracts the exceptions; pass 3 indexes ODA pincodes; the zone
// override map comes normalised off the file.
func newEntry(f *carrier.File, source, path string, zones *geo.ZoneIndex) *Entry {
	e := &Entry{
		file:          f,
		source:        source,
		path:          path,
		strict:        f.Meta.IntegrityMode == carrier.IntegrityStrict,
		served:        make(map[geo.Pincode]struct{}),
		explicit:      make(map[geo.Pincode]struct{}),
		oda:           make(map[geo.Pincode]struct{}),
		perZoneServed: make(map[string]int),
	}

	exceptions := make(map[geo.Pincode]struct{})
	for _, rules := range f.Serviceability {
		for _, r := range rules.ExceptRanges {
			expandRange(r, exceptions)
		}
		addPins(exceptions, rules.ExceptSingles)
		addPins(exceptions, rules.SoftExclusions)
	}

	for zone, rules := range f.Serviceability {
		if rules.Mode == carrier.ModeNotServed {
			continue
		}

		listed := make(map[geo.Pincode]struct{})
		for _, r := range rules.ServedRanges {
			expandRange(r, listed)
		}
		addPins(listed, rules.ServedSingles)

		for pin := range listed {
			if _, excluded := exceptions[pin]; excluded {
				continue
			}
			e.explicit[pin] = struct{}{}
		}

		// FULL_ZONE and FULL_MINUS_EXCEPTIONS expand the whole master zone,
		// unless the zone also lists served pincodes: then the listing is a
		// hybrid whitelist and wins.
		zoneWide := (rules.Mode == carrier.ModeFullZone || rules.Mode == carrier.ModeFullMinusExceptions) &&
			len(listed) == 0
		if zoneWide {
			for _, pin := range zones.PincodesInZone(zone) {
				if _, excluded := exceptions[pin]; excluded {
					continue
				}
				e.served[pin] = struct{}{}
				e.perZoneServed[zone]++
			}
			continue
		}
		for pin := range listed {
			if _, excluded := exceptions[pin]; excluded {
				continue
			}
			e.served[pin] = struct{}{}
			e.perZoneServed[zone]++
		}
	}

	for _, rules := range f.ODA {
		for _, r := range rules.Ranges {
			expandRange(r, e.oda)
		}
		addPins(e.oda, rules.Singles)
	}

	return e
}

// expandRange adds every pincode in the inclusive range, clamped to the
// 6-digit pincode space so a malformed range cannot blow up the index.
func expandRange(r carrier.PinRange, set map[geo.Pincode]struct{}) {
	start, end := r.Start, r.End
	if start < geo.MinPincode {
		start = geo.MinPincode
	}
	if end > geo.MaxPincode {
		end = geo.MaxPincode
	}
	for p := start; p <= end; p++ {
		set[p] = struct{}{}
	}
}

func addPins(set map[geo.Pincode]struct{}, pins []geo.Pincode) {
	for _, p := range pins {
		set[p] = struct{}{}
	}
}

func (e *Entry) ID() string         { return e.file.Meta.ID }
func (e *Entry) Name() string       { return e.file.Meta.CompanyName }
func (e *Entry) CustomerID() string { return e.file.Meta.CustomerID }

// Source reports where the carrier came from: carrier.SourceUTSF for
// file-backed entries, carrier.SourceDB for document-store top-ups.
func (e *Entry) Source() string { return e.source }

func (e *Entry) Approved() bool { return e.file.Approved() }
func (e *Entry) Verified() bool { return e.file.Meta.IsVerified }

// File returns the underlying contract. Callers must treat it as read-only;
// mutations go through Registry.Add.
func (e *Entry) File() *carrier.File { return e.file }

// Serviceable reports whether the carrier covers a pincode. Under STRICT
// integrity only explicitly listed pincodes qualify; zone-wide expansion is
// not trusted.
func (e *Entry) Serviceable(pin geo.Pincode) bool {
	if e.strict {
		_, ok := e.explicit[pin]
		return ok
	}
	_, ok := e.served[pin]
	return ok
}

// IsODA reports whether deliveries to pin attract the out-of-delivery-area
// surcharge.
func (e *Entry) IsODA(pin geo.Pincode) bool {
	_, ok := e.oda[pin]
	return ok
}

// RateZone resolves the zone used for this carrier's rate lookup: the
// per-pincode override when one exists, the master zone otherwise. Master
// zones stay authoritative for routing and reporting.
func (e *Entry) RateZone(pin geo.Pincode, masterZone string) string {
	if z, ok := e.file.ZoneOverrides[pin]; ok {
		return z
	}
	return masterZone
}

func (e *Entry) PriceRate() carrier.PriceRate { return e.file.Pricing.PriceRate }
func (e *Entry) ZoneRates() carrier.ZoneRates { return e.file.Pricing.ZoneRates }

// ServiceablePincodes returns a sorted snapshot of every pincode the carrier
// covers.
func (e *Entry) ServiceablePincodes() []geo.Pincode {
	set := e.served
	if e.strict {
		set = e.explicit
	}
	pins := make([]geo.Pincode, 0, len(set))
	for pin := range set {
		pins = append(pins, pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

// CoverageCount is the number of pincodes the carrier covers.
func (e *Entry) CoverageCount() int {
	if e.strict {
		return len(e.explicit)
	}
	return len(e.served)
}
