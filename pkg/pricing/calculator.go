package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shipkaro/freightrate/pkg/carrier"
)

var (
	ErrNoRate = errors.New("no rate for lane")
)

// Input is everything Calculate needs for one carrier. The route context
// (zones, ODA flag) has already been resolved by the caller.
type Input struct {
	CarrierID   string
	CarrierName string
	Source      string
	TiedUp      bool

	OriginZone   string
	DestZone     string
	IsDestODA    bool
	InvoiceValue float64

	Rate      carrier.PriceRate
	ZoneRates carrier.ZoneRates
	Weights   *VolumetricWeights
}

// AppliedSurcharge is one custom surcharge line in a quote.
type AppliedSurcharge struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// FormulaParams echoes the constants a quote was computed with.
type FormulaParams struct {
	KFactor              float64           `json:"kFactor"`
	FuelPct              float64           `json:"fuelPct"`
	DocketCharge         float64           `json:"docketCharge"`
	RovPct               float64           `json:"rovPct"`
	RovFixed             float64           `json:"rovFixed"`
	MinCharges           float64           `json:"minCharges"`
	ODAConfig            carrier.ODACharge `json:"odaConfig"`
	UnitPrice            float64           `json:"unitPrice"`
	BaseFreight          float64           `json:"baseFreight"`
	EffectiveBaseFreight float64           `json:"effectiveBaseFreight"`
}

// Quote is one carrier's itemised result. All rupee fields are half-up
// rounded integers; weights keep their decimals.
type Quote struct {
	CarrierID   string `json:"carrierId"`
	CarrierName string `json:"carrierName"`
	Source      string `json:"source"`
	TiedUp      bool   `json:"tiedUp"`

	OriginZone string `json:"originZone"`
	DestZone   string `json:"destZone"`
	IsDestODA  bool   `json:"isDestOda"`

	UnitPrice        float64 `json:"unitPrice"`
	ActualWeight     float64 `json:"actualWeight"`
	VolumetricWeight float64 `json:"volumetricWeight"`
	ChargeableWeight float64 `json:"chargeableWeight"`
	Divisor          float64 `json:"divisor"`

	BaseFreight          float64 `json:"baseFreight"`
	EffectiveBaseFreight float64 `json:"effectiveBaseFreight"`
	DocketCharges        float64 `json:"docketCharges"`
	FuelCharges          float64 `json:"fuelCharges"`
	ROVCharges           float64 `json:"rovCharges"`
	InsuranceCharges     float64 `json:"insuranceCharges"`
	FMCharges            float64 `json:"fmCharges"`
	AppointmentCharges   float64 `json:"appointmentCharges"`
	HandlingCharges      float64 `json:"handlingCharges"`
	ODACharges           float64 `json:"odaCharges"`
	GreenTax             float64 `json:"greenTax"`
	DaccCharges          float64 `json:"daccCharges"`
	MiscCharges          float64 `json:"miscCharges"`

	Surcharges     []AppliedSurcharge `json:"surcharges,omitempty"`
	SurchargeTotal float64            `json:"surchargeTotal"`
	InvoiceCharges float64            `json:"invoiceCharges"`

	TotalCharges                    float64 `json:"totalCharges"`
	TotalChargesWithoutInvoiceAddon float64 `json:"totalChargesWithoutInvoiceAddon"`

	FormulaParams FormulaParams `json:"formulaParams"`
}

// HalfUp rounds a rupee amount to the nearest integer, ties up.
func HalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}

// Calculate runs the freight formula for one carrier. It returns ErrNoRate
// when the lane is priced in neither direction; every other input produces a
// quote (anomalies are SmartShield's business, not ours).
func Calculate(in Input) (Quote, error) {
	unit, ok := in.ZoneRates.Rate(in.OriginZone, in.DestZone)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s->%s", ErrNoRate, in.OriginZone, in.DestZone)
	}

	rate := in.Rate
	divisor := rate.EffectiveDivisor()
	actual := in.Weights.Actual()
	volumetric := in.Weights.For(divisor)
	chargeable := math.Max(actual, volumetric)

	effectiveWeight := math.Max(rate.MinWeight, chargeable)
	baseFreight := HalfUp(unit * effectiveWeight)

	minCharges := rate.EffectiveMinCharges()
	effectiveBase := baseFreight
	if !rate.MinChargesApplyToTotal && minCharges > baseFreight {
		effectiveBase = HalfUp(minCharges)
	}

	fuel := rate.Fuel / 100 * baseFreight
	if rate.FuelMax > 0 && fuel > rate.FuelMax {
		fuel = rate.FuelMax
	}
	fuel = HalfUp(fuel)

	rov := compound(rate.ROV, baseFreight)
	insurance := compound(rate.Insurance, baseFreight)
	fm := compound(rate.FM, baseFreight)
	appointment := compound(rate.Appointment, baseFreight)

	handling := HalfUp(rate.Handling.Fixed +
		math.Max(0, chargeable-rate.Handling.ThresholdWeight)*rate.Handling.Variable/100)

	var oda float64
	if in.IsDestODA {
		oda = HalfUp(odaCharge(rate, chargeable))
	}

	docket := HalfUp(rate.DocketCharges)
	greenTax := HalfUp(rate.GreenTax)
	dacc := HalfUp(rate.DaccCharges)
	misc := HalfUp(rate.MiscCharges)

	var invoice float64
	if rate.InvoiceValue.Enabled && in.InvoiceValue > 0 {
		invoice = HalfUp(math.Max(
			in.InvoiceValue*rate.InvoiceValue.Percentage/100,
			rate.InvoiceValue.MinimumAmount,
		))
	}

	subtotal := effectiveBase + docket + fuel + rov + insurance + fm +
		appointment + handling + oda + greenTax + dacc + misc

	applied, surchargeTotal := applySurcharges(rate.Surcharges, baseFreight, chargeable, &subtotal)

	total := subtotal + invoice
	if rate.MinChargesApplyToTotal && minCharges > total {
		total = minCharges
	}
	if rate.MinTotalCharges > total {
		total = rate.MinTotalCharges
	}
	total = HalfUp(total)

	return Quote{
		CarrierID:   in.CarrierID,
		CarrierName: in.CarrierName,
		Source:      in.Source,
		TiedUp:      in.TiedUp,

		OriginZone: in.OriginZone,
		DestZone:   in.DestZone,
		IsDestODA:  in.IsDestODA,

		UnitPrice:        unit,
		ActualWeight:     actual,
		VolumetricWeight: volumetric,
		ChargeableWeight: chargeable,
		Divisor:          divisor,

		BaseFreight:          baseFreight,
		EffectiveBaseFreight: effectiveBase,
		DocketCharges:        docket,
		FuelCharges:          fuel,
		ROVCharges:           rov,
		InsuranceCharges:     insurance,
		FMCharges:            fm,
		AppointmentCharges:   appointment,
		HandlingCharges:      handling,
		ODACharges:           oda,
		GreenTax:             greenTax,
		DaccCharges:          dacc,
		MiscCharges:          misc,

		Surcharges:     applied,
		SurchargeTotal: surchargeTotal,
		InvoiceCharges: invoice,

		TotalCharges:                    total,
		TotalChargesWithoutInvoiceAddon: total - invoice,

		FormulaParams: FormulaParams{
			KFactor:              divisor,
			FuelPct:              rate.Fuel,
			DocketCharge:         docket,
			RovPct:               rate.ROV.Variable,
			RovFixed:             rate.ROV.Fixed,
			MinCharges:           minCharges,
			ODAConfig:            rate.ODA,
			UnitPrice:            unit,
			BaseFreight:          baseFreight,
			EffectiveBaseFreight: effectiveBase,
		},
	}, nil
}

// compound is the percentage-or-fixed rule: max(variable% of base, fixed).
func compound(c carrier.CompoundCharge, baseFreight float64) float64 {
	return HalfUp(math.Max(c.Variable/100*baseFreight, c.Fixed))
}

// odaCharge picks the configured ODA formula. At exactly the threshold the
// switch mode stays on the fixed branch.
func odaCharge(rate carrier.PriceRate, chargeable float64) float64 {
	c := rate.ODA
	switch rate.ODAMode() {
	case carrier.ODAModeSwitch:
		if chargeable > c.ThresholdWeight {
			return c.Variable * chargeable
		}
		return c.Fixed
	case carrier.ODAModeExcess:
		return c.Fixed + math.Max(0, chargeable-c.ThresholdWeight)*c.Variable
	default:
		return c.Fixed + chargeable*c.Variable/100
	}
}

// applySurcharges evaluates enabled custom surcharges in ascending order.
// PCT_OF_SUBTOTAL reads the running subtotal, which includes surcharges
// applied before it; subtotal is advanced as each line lands.
func applySurcharges(surcharges []carrier.Surcharge, baseFreight, chargeable float64, subtotal *float64) ([]AppliedSurcharge, float64) {
	if len(surcharges) == 0 {
		return nil, 0
	}
	ordered := make([]carrier.Surcharge, 0, len(surcharges))
	for _, s := range surcharges {
		if s.Enabled {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var applied []AppliedSurcharge
	var total float64
	for _, s := range ordered {
		var amount float64
		switch s.Formula {
		case carrier.FormulaPctOfBase:
			amount = s.Value / 100 * baseFreight
		case carrier.FormulaPctOfSubtotal:
			amount = s.Value / 100 * *subtotal
		case carrier.FormulaFlat:
			amount = s.Value
		case carrier.FormulaPerKg:
			amount = s.Value * chargeable
		case carrier.FormulaMaxFlatPkg:
			amount = math.Max(s.Value, s.Value2*chargeable)
		default:
			continue
		}
		amount = HalfUp(amount)
		applied = append(applied, AppliedSurcharge{ID: s.ID, Label: s.Label, Amount: amount})
		total += amount
		*subtotal += amount
	}
	return applied, total
}
