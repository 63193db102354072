// Package carrier defines the carrier pricing contract and the UTSF
// (Universal Transporter Save Format) catalog file codec.
package carrier

import (
	"encoding/json"
	"strings"

	"github.com/shipkaro/freightrate/pkg/geo"
)

// DefaultDivisor is the volumetric divisor assumed when a contract sets
// neither kFactor nor divisor.
const DefaultDivisor = 5000

// Serviceability modes a carrier may declare per zone.
const (
	ModeFullZone            = "FULL_ZONE"
	ModeFullMinusExceptions = "FULL_MINUS_EXCEPTIONS"
	ModeOnlyServed          = "ONLY_SERVED"
	ModeNotServed           = "NOT_SERVED"
)

// Integrity modes. STRICT disables zone-wide expansion: only explicitly
// served pincodes qualify.
const (
	IntegrityStrict = "STRICT"
	IntegrityNone   = "NONE"
)

// Approval statuses. Only approved (or unset, for legacy records) carriers
// enter quoting.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalDraft    = "draft"
)

// ODA charge modes.
const (
	ODAModeLegacy = "legacy"
	ODAModeSwitch = "switch"
	ODAModeExcess = "excess"
)

// Custom surcharge formulas.
const (
	FormulaPctOfBase     = "PCT_OF_BASE"
	FormulaPctOfSubtotal = "PCT_OF_SUBTOTAL"
	FormulaFlat          = "FLAT"
	FormulaPerKg         = "PER_KG"
	FormulaMaxFlatPkg    = "MAX_FLAT_PKG"
)

// Quote provenance.
const (
	SourceUTSF = "UTSF"
	SourceDB   = "DB"
)

// CompoundCharge is a percentage-or-fixed charge: the computed value is
// max(variable% of base freight, fixed).
type CompoundCharge struct {
	Fixed    float64 `json:"fixed" bson:"fixed"`
	Variable float64 `json:"variable" bson:"variable"`
	Unit     string  `json:"unit,omitempty" bson:"unit,omitempty"`
}

// HandlingCharge bills fixed plus variable% per kg above a weight threshold.
type HandlingCharge struct {
	Fixed           float64 `json:"fixed" bson:"fixed"`
	Variable        float64 `json:"variable" bson:"variable"`
	ThresholdWeight float64 `json:"thresholdWeight" bson:"thresholdWeight"`
}

// ODACharge configures the out-of-delivery-area surcharge. Mode selects the
// formula; legacy is assumed when unset.
type ODACharge struct {
	Fixed           float64 `json:"fixed" bson:"fixed"`
	Variable        float64 `json:"variable" bson:"variable"`
	ThresholdWeight float64 `json:"thresholdWeight" bson:"thresholdWeight"`
	Mode            string  `json:"mode,omitempty" bson:"mode,omitempty"`
}

// InvoiceValueCharge is the invoice-value based addon (FOV style).
type InvoiceValueCharge struct {
	Enabled       bool    `json:"enabled" bson:"enabled"`
	Percentage    float64 `json:"percentage" bson:"percentage"`
	MinimumAmount float64 `json:"minimumAmount" bson:"minimumAmount"`
}

// Surcharge is a carrier-defined charge applied after the standard ladder,
// in ascending Order.
type Surcharge struct {
	ID      string  `json:"id" bson:"id"`
	Label   string  `json:"label" bson:"label"`
	Formula string  `json:"formula" bson:"formula"`
	Value   float64 `json:"value" bson:"value"`
	Value2  float64 `json:"value2,omitempty" bson:"value2,omitempty"`
	Order   int     `json:"order" bson:"order"`
	Enabled bool    `json:"enabled" bson:"enabled"`
}

// PriceRate is the per-carrier pricing contract. Legacy field spellings
// (insuaranceCharges, miscellanousCharges) are preserved on the wire; kFactor
// and minBaseFreight are accepted aliases for divisor and minCharges.
type PriceRate struct {
	MinWeight              float64            `json:"minWeight" bson:"minWeight"`
	Divisor                float64            `json:"divisor" bson:"divisor"`
	KFactor                float64            `json:"kFactor" bson:"kFactor"`
	MinCharges             float64            `json:"minCharges" bson:"minCharges"`
	MinBaseFreight         float64            `json:"minBaseFreight" bson:"minBaseFreight"`
	MinTotalCharges        float64            `json:"minTotalCharges" bson:"minTotalCharges"`
	MinChargesApplyToTotal bool               `json:"minChargesApplyToTotal" bson:"minChargesApplyToTotal"`
	DocketCharges          float64            `json:"docketCharges" bson:"docketCharges"`
	Fuel                   float64            `json:"fuel" bson:"fuel"`
	FuelMax                float64            `json:"fuelMax" bson:"fuelMax"`
	GreenTax               float64            `json:"greenTax" bson:"greenTax"`
	DaccCharges            float64            `json:"daccCharges" bson:"daccCharges"`
	MiscCharges            float64            `json:"miscellanousCharges" bson:"miscellanousCharges"`
	ROV                    CompoundCharge     `json:"rovCharges" bson:"rovCharges"`
	Insurance              CompoundCharge     `json:"insuaranceCharges" bson:"insuaranceCharges"`
	FM                     CompoundCharge     `json:"fmCharges" bson:"fmCharges"`
	Appointment            CompoundCharge     `json:"appointmentCharges" bson:"appointmentCharges"`
	Handling               HandlingCharge     `json:"handlingCharges" bson:"handlingCharges"`
	ODA                    ODACharge          `json:"odaCharges" bson:"odaCharges"`
	InvoiceValue           InvoiceValueCharge `json:"invoiceValueCharges" bson:"invoiceValueCharges"`
	Surcharges             []Surcharge        `json:"surcharges,omitempty" bson:"surcharges,omitempty"`
}

// EffectiveDivisor resolves the volumetric divisor: kFactor wins over
// divisor, both default to 5000.
func (p *PriceRate) EffectiveDivisor() float64 {
	if p.KFactor > 0 {
		return p.KFactor
	}
	if p.Divisor > 0 {
		return p.Divisor
	}
	return DefaultDivisor
}

// EffectiveMinCharges resolves the base-freight floor from its two spellings.
func (p *PriceRate) EffectiveMinCharges() float64 {
	if p.MinCharges > 0 {
		return p.MinCharges
	}
	return p.MinBaseFreight
}

// ODAMode returns the configured ODA formula mode, defaulting to legacy.
func (p *PriceRate) ODAMode() string {
	switch strings.ToLower(strings.TrimSpace(p.ODA.Mode)) {
	case ODAModeSwitch:
		return ODAModeSwitch
	case ODAModeExcess:
		return ODAModeExcess
	default:
		return ODAModeLegacy
	}
}

// ZoneRates maps originZone → destZone → unit price per kg. Zone keys are
// normalised to uppercase on decode.
type ZoneRates map[string]map[string]float64

func (z *ZoneRates) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*z = NormalizeZoneRates(raw)
	return nil
}

// NormalizeZoneRates rebuilds a rate chart with uppercase zone keys. Used by
// the JSON decoder and by the document-store source, which decodes raw maps.
func NormalizeZoneRates(raw map[string]map[string]float64) ZoneRates {
	if raw == nil {
		return nil
	}
	out := make(ZoneRates, len(raw))
	for origin, dests := range raw {
		o := geo.NormalizeZone(origin)
		if o == "" {
			continue
		}
		m := out[o]
		if m == nil {
			m = make(map[string]float64, len(dests))
			out[o] = m
		}
		for dest, rate := range dests {
			d := geo.NormalizeZone(dest)
			if d == "" {
				continue
			}
			m[d] = rate
		}
	}
	return out
}

// Rate looks up the unit price for a lane, case-insensitively, trying the
// reverse direction when the forward entry is missing. A present zero rate is
// returned as (0, true); absence of both directions means the lane is not
// priced.
func (z ZoneRates) Rate(origin, dest string) (float64, bool) {
	o := geo.NormalizeZone(origin)
	d := geo.NormalizeZone(dest)
	if m, ok := z[o]; ok {
		if rate, ok := m[d]; ok {
			return rate, true
		}
	}
	if m, ok := z[d]; ok {
		if rate, ok := m[o]; ok {
			return rate, true
		}
	}
	return 0, false
}

// Pricing is the pricing section of a carrier record.
type Pricing struct {
	PriceRate PriceRate `json:"priceRate" bson:"priceRate"`
	ZoneRates ZoneRates `json:"zoneRates,omitempty" bson:"zoneRates,omitempty"`
}
