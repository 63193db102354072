package carrier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shipkaro/freightrate/pkg/geo"
)

var (
	ErrMalformedUTSF   = errors.New("malformed utsf document")
	ErrMissingIdentity = errors.New("utsf document has neither id nor company name")
	ErrMalformedRange  = errors.New("malformed pincode range")
)

// FormatVersion is stamped on files written without an explicit version.
const FormatVersion = "3.0"

// PinRange is an inclusive pincode interval. Files carry ranges as either
// [start, end] pairs or {s, e} / {start, end} objects; both are accepted on
// read and the pair form is emitted on write. Start and End are swapped when
// they arrive reversed.
type PinRange struct {
	Start geo.Pincode
	End   geo.Pincode
}

func (r *PinRange) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []geo.Pincode
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedRange, err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("%w: %d elements", ErrMalformedRange, len(pair))
		}
		r.Start, r.End = pair[0], pair[1]
	} else {
		var obj struct {
			S     *geo.Pincode `json:"s"`
			E     *geo.Pincode `json:"e"`
			Start *geo.Pincode `json:"start"`
			End   *geo.Pincode `json:"end"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedRange, err)
		}
		switch {
		case obj.S != nil && obj.E != nil:
			r.Start, r.End = *obj.S, *obj.E
		case obj.Start != nil && obj.End != nil:
			r.Start, r.End = *obj.Start, *obj.End
		default:
			return fmt.Errorf("%w: missing endpoints", ErrMalformedRange)
		}
	}
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	return nil
}

func (r PinRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]geo.Pincode{r.Start, r.End})
}

// Contains reports whether p falls inside the range.
func (r PinRange) Contains(p geo.Pincode) bool {
	return p >= r.Start && p <= r.End
}

// Size is the number of pincodes the range spans.
func (r PinRange) Size() int {
	return int(r.End-r.Start) + 1
}

// ZoneRules is the per-zone serviceability declaration. The snake_case
// variants are accepted on read and folded into the canonical fields by
// normalize; only camelCase is emitted.
type ZoneRules struct {
	Mode            string        `json:"mode,omitempty"`
	ExceptRanges    []PinRange    `json:"exceptRanges,omitempty"`
	ExceptSingles   []geo.Pincode `json:"exceptSingles,omitempty"`
	ServedRanges    []PinRange    `json:"servedRanges,omitempty"`
	ServedSingles   []geo.Pincode `json:"servedSingles,omitempty"`
	SoftExclusions  []geo.Pincode `json:"softExclusions,omitempty"`
	CoveragePercent float64       `json:"coveragePercent,omitempty"`

	ExceptRangesS    []PinRange    `json:"except_ranges,omitempty"`
	ExceptSinglesS   []geo.Pincode `json:"except_singles,omitempty"`
	ServedRangesS    []PinRange    `json:"served_ranges,omitempty"`
	ServedSinglesS   []geo.Pincode `json:"served_singles,omitempty"`
	SoftExclusionsS  []geo.Pincode `json:"soft_exclusions,omitempty"`
	CoveragePercentS float64       `json:"coverage_percent,omitempty"`
}

func (r *ZoneRules) normalize() {
	r.ExceptRanges = append(r.ExceptRanges, r.ExceptRangesS...)
	r.ExceptSingles = append(r.ExceptSingles, r.ExceptSinglesS...)
	r.ServedRanges = append(r.ServedRanges, r.ServedRangesS...)
	r.ServedSingles = append(r.ServedSingles, r.ServedSinglesS...)
	r.SoftExclusions = append(r.SoftExclusions, r.SoftExclusionsS...)
	if r.CoveragePercent == 0 {
		r.CoveragePercent = r.CoveragePercentS
	}
	r.ExceptRangesS = nil
	r.ExceptSinglesS = nil
	r.ServedRangesS = nil
	r.ServedSinglesS = nil
	r.SoftExclusionsS = nil
	r.CoveragePercentS = 0
	r.Mode = normalizeMode(r.Mode, len(r.ServedRanges)+len(r.ServedSingles) > 0)
}

func (r *ZoneRules) merge(other *ZoneRules) {
	if r.Mode == ModeNotServed && other.Mode != "" {
		r.Mode = other.Mode
	}
	r.ExceptRanges = append(r.ExceptRanges, other.ExceptRanges...)
	r.ExceptSingles = append(r.ExceptSingles, other.ExceptSingles...)
	r.ServedRanges = append(r.ServedRanges, other.ServedRanges...)
	r.ServedSingles = append(r.ServedSingles, other.ServedSingles...)
	r.SoftExclusions = append(r.SoftExclusions, other.SoftExclusions...)
	if r.CoveragePercent == 0 {
		r.CoveragePercent = other.CoveragePercent
	}
}

// normalizeMode maps a raw mode string to one of the four canonical modes.
// An absent or unrecognised mode means ONLY_SERVED when the zone lists
// served pincodes, NOT_SERVED otherwise.
func normalizeMode(raw string, hasServed bool) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case ModeFullZone:
		return ModeFullZone
	case ModeFullMinusExceptions:
		return ModeFullMinusExceptions
	case ModeOnlyServed:
		return ModeOnlyServed
	case ModeNotServed:
		return ModeNotServed
	default:
		if hasServed {
			return ModeOnlyServed
		}
		return ModeNotServed
	}
}

// ODARules lists out-of-delivery-area pincodes for a zone.
type ODARules struct {
	Ranges  []PinRange    `json:"odaRanges,omitempty"`
	Singles []geo.Pincode `json:"odaSingles,omitempty"`

	RangesS  []PinRange    `json:"oda_ranges,omitempty"`
	SinglesS []geo.Pincode `json:"oda_singles,omitempty"`
}

func (r *ODARules) normalize() {
	r.Ranges = append(r.Ranges, r.RangesS...)
	r.Singles = append(r.Singles, r.SinglesS...)
	r.RangesS = nil
	r.SinglesS = nil
}

func (r *ODARules) merge(other *ODARules) {
	r.Ranges = append(r.Ranges, other.Ranges...)
	r.Singles = append(r.Singles, other.Singles...)
}

// CreatedInfo records provenance for a file.
type CreatedInfo struct {
	By     string `json:"by,omitempty"`
	At     string `json:"at,omitempty"`
	Source string `json:"source,omitempty"`
}

// Meta is the identity section of a UTSF file.
type Meta struct {
	ID              string       `json:"id"`
	CompanyName     string       `json:"companyName"`
	CustomerID      string       `json:"customerID,omitempty"`
	TransporterType string       `json:"transporterType,omitempty"`
	Rating          float64      `json:"rating,omitempty"`
	IsVerified      bool         `json:"isVerified"`
	ApprovalStatus  string       `json:"approvalStatus,omitempty"`
	IntegrityMode   string       `json:"integrityMode,omitempty"`
	Created         *CreatedInfo `json:"created,omitempty"`
	Version         string       `json:"version,omitempty"`
	UpdateCount     int          `json:"updateCount,omitempty"`
}

// UpdateRecord is one entry of the audit trail kept inside the file.
type UpdateRecord struct {
	Timestamp     string          `json:"timestamp"`
	EditorID      string          `json:"editorId,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	ChangeSummary string          `json:"changeSummary,omitempty"`
	Snapshot      json.RawMessage `json:"snapshot,omitempty"`
}

// Stats is the summary block recomputed on every save.
type Stats struct {
	TotalPincodes   int     `json:"totalPincodes"`
	TotalZones      int     `json:"totalZones,omitempty"`
	ComplianceScore float64 `json:"complianceScore"`
}

// File is a parsed UTSF document. Field order here is the emit order.
type File struct {
	Version        string                 `json:"version,omitempty"`
	Meta           Meta                   `json:"meta"`
	Updates        []UpdateRecord         `json:"updates,omitempty"`
	ZoneOverrides  map[geo.Pincode]string `json:"zoneOverrides,omitempty"`
	Pricing        Pricing                `json:"pricing"`
	Serviceability map[string]*ZoneRules  `json:"serviceability,omitempty"`
	ODA            map[string]*ODARules   `json:"oda,omitempty"`
	Stats          *Stats                 `json:"stats,omitempty"`
}

// ParseUTSF decodes and normalises a UTSF document.
func ParseUTSF(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedUTSF, err)
	}
	f.Normalize()
	if f.Meta.ID == "" && f.Meta.CompanyName == "" {
		return nil, ErrMissingIdentity
	}
	return &f, nil
}

// EncodeUTSF renders a file in the canonical on-disk form: camelCase keys,
// two-space indent.
func EncodeUTSF(f *File) ([]byte, error) {
	f.Normalize()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Normalize folds alternate field spellings into the canonical ones,
// uppercases zone keys, lowercases statuses and resolves mode defaults.
// Idempotent; safe to call on hand-built files.
func (f *File) Normalize() {
	f.Meta.ID = strings.TrimSpace(f.Meta.ID)
	f.Meta.CompanyName = strings.TrimSpace(f.Meta.CompanyName)
	f.Meta.CustomerID = strings.TrimSpace(f.Meta.CustomerID)
	f.Meta.TransporterType = strings.ToLower(strings.TrimSpace(f.Meta.TransporterType))
	f.Meta.ApprovalStatus = strings.ToLower(strings.TrimSpace(f.Meta.ApprovalStatus))
	f.Meta.IntegrityMode = strings.ToUpper(strings.TrimSpace(f.Meta.IntegrityMode))
	if f.Meta.IntegrityMode != IntegrityStrict {
		f.Meta.IntegrityMode = IntegrityNone
	}

	if len(f.ZoneOverrides) > 0 {
		overrides := make(map[geo.Pincode]string, len(f.ZoneOverrides))
		for pin, zone := range f.ZoneOverrides {
			z := geo.NormalizeZone(zone)
			if pin <= 0 || z == "" {
				continue
			}
			overrides[pin] = z
		}
		f.ZoneOverrides = overrides
	}

	if len(f.Serviceability) > 0 {
		sv := make(map[string]*ZoneRules, len(f.Serviceability))
		for zone, rules := range f.Serviceability {
			z := geo.NormalizeZone(zone)
			if z == "" || rules == nil {
				continue
			}
			rules.normalize()
			if existing, ok := sv[z]; ok {
				existing.merge(rules)
			} else {
				sv[z] = rules
			}
		}
		f.Serviceability = sv
	}

	if len(f.ODA) > 0 {
		oda := make(map[string]*ODARules, len(f.ODA))
		for zone, rules := range f.ODA {
			z := geo.NormalizeZone(zone)
			if z == "" || rules == nil {
				continue
			}
			rules.normalize()
			if existing, ok := oda[z]; ok {
				existing.merge(rules)
			} else {
				oda[z] = rules
			}
		}
		f.ODA = oda
	}
}

// Approved reports whether the carrier may enter quoting. Records without a
// status are legacy data and treated as approved.
func (f *File) Approved() bool {
	return f.Meta.ApprovalStatus == "" || f.Meta.ApprovalStatus == ApprovalApproved
}
