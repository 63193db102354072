// Package shield validates computed quotes after the fact: per-quote sanity
// checks plus cohort-level outlier detection. Advisory only; quotes are
// reported on, never dropped.
package shield

import (
	"fmt"
	"math"
	"sort"

	"github.com/shipkaro/freightrate/pkg/pricing"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Flag codes.
const (
	CodeNaNTotal              = "NAN_TOTAL"
	CodeNegativeTotal         = "NEGATIVE_TOTAL"
	CodeNegativeBase          = "NEGATIVE_BASE"
	CodeWeightMismatch        = "WEIGHT_MISMATCH"
	CodeExtremeVolumetric     = "EXTREME_VOLUMETRIC"
	CodeNearZeroWeight        = "NEAR_ZERO_WEIGHT"
	CodeMinChargesApplied     = "MIN_CHARGES_APPLIED"
	CodeHighUnitPrice         = "HIGH_UNIT_PRICE"
	CodeZeroUnitPrice         = "ZERO_UNIT_PRICE"
	CodeSuspiciouslyCheap     = "SUSPICIOUSLY_CHEAP"
	CodeSuspiciouslyExpensive = "SUSPICIOUSLY_EXPENSIVE"
	CodeFuelRatio             = "FUEL_RATIO_HIGH"
	CodeODARatio              = "ODA_RATIO_HIGH"
	CodeHandlingRatio         = "HANDLING_RATIO_HIGH"
	CodeROVRatio              = "ROV_RATIO_HIGH"
	CodeInsuranceRatio        = "INSURANCE_RATIO_HIGH"
	CodeMiscRatio             = "MISC_RATIO_HIGH"
	CodePhantomCharges        = "PHANTOM_CHARGES"
	CodeTotalMismatch         = "TOTAL_MISMATCH"
	CodeNoVendorID            = "NO_VENDOR_ID"
	CodeOutlierCheap          = "OUTLIER_CHEAP"
	CodeOutlierExpensive      = "OUTLIER_EXPENSIVE"
)

// Flag is one detected anomaly.
type Flag struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
	Value    float64  `json:"value,omitempty"`
}

// QuoteReport carries the flags and health score for a single quote.
type QuoteReport struct {
	CarrierID   string  `json:"carrierId"`
	CarrierName string  `json:"carrierName"`
	Score       float64 `json:"score"`
	Flags       []Flag  `json:"flags,omitempty"`
}

// Summary tallies flag severities across the whole report.
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Report is the full validation result for one quote cohort.
type Report struct {
	OverallScore float64       `json:"overallScore"`
	Summary      Summary       `json:"summary"`
	QuoteFlags   []QuoteReport `json:"quoteFlags,omitempty"`
	CohortFlags  []Flag        `json:"cohortFlags,omitempty"`
}

const (
	minCohortSize    = 3
	cheapMedianRatio = 0.2
	expensiveMedianX = 5.0
	highUnitPrice    = 500.0
	cheapTotal       = 50.0
	expensiveTotal   = 5_000_000.0
)

// Evaluate inspects every quote and the cohort as a whole.
func Evaluate(quotes []pricing.Quote) Report {
	var r Report
	var cohort []float64

	for i := range quotes {
		q := &quotes[i]
		flags := evaluateQuote(q)
		r.QuoteFlags = append(r.QuoteFlags, QuoteReport{
			CarrierID:   q.CarrierID,
			CarrierName: q.CarrierName,
			Score:       scoreFromFlags(flags, 0.3, 0.1),
			Flags:       flags,
		})
		if !math.IsNaN(q.TotalCharges) && !math.IsInf(q.TotalCharges, 0) && q.TotalCharges > 0 {
			cohort = append(cohort, q.TotalCharges)
		}
	}

	if len(cohort) >= minCohortSize {
		med := median(cohort)
		for i := range quotes {
			q := &quotes[i]
			switch {
			case q.TotalCharges > 0 && q.TotalCharges < cheapMedianRatio*med:
				r.CohortFlags = append(r.CohortFlags, Flag{
					Code:     CodeOutlierCheap,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("%s: total %.0f is below 20%% of the cohort median %.0f", q.CarrierName, q.TotalCharges, med),
					Field:    "totalCharges",
					Value:    q.TotalCharges,
				})
			case q.TotalCharges > expensiveMedianX*med:
				r.CohortFlags = append(r.CohortFlags, Flag{
					Code:     CodeOutlierExpensive,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("%s: total %.0f exceeds 5x the cohort median %.0f", q.CarrierName, q.TotalCharges, med),
					Field:    "totalCharges",
					Value:    q.TotalCharges,
				})
			}
		}
	}

	var all []Flag
	for _, qr := range r.QuoteFlags {
		all = append(all, qr.Flags...)
	}
	all = append(all, r.CohortFlags...)
	for _, f := range all {
		switch f.Severity {
		case SeverityError:
			r.Summary.Errors++
		case SeverityWarning:
			r.Summary.Warnings++
		case SeverityInfo:
			r.Summary.Infos++
		}
	}
	r.OverallScore = scoreFromFlags(all, 0.15, 0.05)
	return r
}

func evaluateQuote(q *pricing.Quote) []Flag {
	var flags []Flag
	add := func(code string, sev Severity, msg, field string, value float64) {
		flags = append(flags, Flag{Code: code, Severity: sev, Message: msg, Field: field, Value: value})
	}

	total := q.TotalCharges
	base := q.BaseFreight

	if math.IsNaN(total) || math.IsInf(total, 0) {
		add(CodeNaNTotal, SeverityError, "total is not a finite number", "totalCharges", 0)
		// nothing else about this quote is trustworthy
		return flags
	}
	if total < 0 {
		add(CodeNegativeTotal, SeverityError, fmt.Sprintf("total is negative: %.0f", total), "totalCharges", total)
	}
	if base < 0 {
		add(CodeNegativeBase, SeverityError, fmt.Sprintf("base freight is negative: %.0f", base), "baseFreight", base)
	}
	if q.CarrierID == "" {
		add(CodeNoVendorID, SeverityError, "quote has no carrier id", "carrierId", 0)
	}

	expected := math.Max(q.ActualWeight, q.VolumetricWeight)
	if diff := math.Abs(q.ChargeableWeight - expected); diff > 0.5 && diff > 0.01*expected {
		add(CodeWeightMismatch, SeverityWarning,
			fmt.Sprintf("chargeable weight %.2f deviates from max(actual, volumetric) %.2f", q.ChargeableWeight, expected),
			"chargeableWeight", q.ChargeableWeight)
	}
	if q.ActualWeight > 0 && q.VolumetricWeight/q.ActualWeight > 100 {
		add(CodeExtremeVolumetric, SeverityWarning,
			fmt.Sprintf("volumetric weight is %.0fx the actual weight", q.VolumetricWeight/q.ActualWeight),
			"volumetricWeight", q.VolumetricWeight)
	}
	if q.ChargeableWeight < 0.01 {
		add(CodeNearZeroWeight, SeverityWarning, "chargeable weight is near zero", "chargeableWeight", q.ChargeableWeight)
	}
	if q.EffectiveBaseFreight > base {
		add(CodeMinChargesApplied, SeverityInfo,
			fmt.Sprintf("minimum charges raised base %.0f to %.0f", base, q.EffectiveBaseFreight),
			"effectiveBaseFreight", q.EffectiveBaseFreight)
	}
	if q.UnitPrice > highUnitPrice {
		add(CodeHighUnitPrice, SeverityWarning,
			fmt.Sprintf("unit price %.2f/kg is unusually high", q.UnitPrice), "unitPrice", q.UnitPrice)
	}
	if q.UnitPrice == 0 && total > 0 {
		add(CodeZeroUnitPrice, SeverityWarning, "zero unit price with a nonzero total", "unitPrice", 0)
	}
	if total < cheapTotal {
		add(CodeSuspiciouslyCheap, SeverityWarning,
			fmt.Sprintf("total %.0f is suspiciously cheap", total), "totalCharges", total)
	}
	if total > expensiveTotal {
		add(CodeSuspiciouslyExpensive, SeverityWarning,
			fmt.Sprintf("total %.0f is suspiciously expensive", total), "totalCharges", total)
	}

	if base > 0 {
		ratios := []struct {
			code    string
			field   string
			charge  float64
			maxFrac float64
		}{
			{CodeFuelRatio, "fuelCharges", q.FuelCharges, 0.5},
			{CodeODARatio, "odaCharges", q.ODACharges, 1.0},
			{CodeHandlingRatio, "handlingCharges", q.HandlingCharges, 0.4},
			{CodeROVRatio, "rovCharges", q.ROVCharges, 0.3},
			{CodeInsuranceRatio, "insuranceCharges", q.InsuranceCharges, 0.2},
			{CodeMiscRatio, "miscCharges", q.MiscCharges, 0.3},
		}
		for _, rc := range ratios {
			if rc.charge > rc.maxFrac*base {
				add(rc.code, SeverityWarning,
					fmt.Sprintf("%s %.0f exceeds %.0f%% of base freight %.0f", rc.field, rc.charge, rc.maxFrac*100, base),
					rc.field, rc.charge)
			}
		}
	}

	parts := q.EffectiveBaseFreight + q.DocketCharges + q.FuelCharges + q.ROVCharges +
		q.InsuranceCharges + q.FMCharges + q.AppointmentCharges + q.HandlingCharges +
		q.ODACharges + q.GreenTax + q.DaccCharges + q.MiscCharges + q.SurchargeTotal +
		q.InvoiceCharges

	if base == 0 && total > 0 && parts-q.EffectiveBaseFreight == 0 {
		add(CodePhantomCharges, SeverityError,
			fmt.Sprintf("total %.0f with zero base freight and no fixed charges", total),
			"totalCharges", total)
	}
	if diff := math.Abs(total - parts); diff > math.Max(2, 0.01*total) {
		add(CodeTotalMismatch, SeverityWarning,
			fmt.Sprintf("reported total %.0f differs from the sum of parts %.0f", total, parts),
			"totalCharges", total)
	}

	return flags
}

// scoreFromFlags derives a health score from flag counts. Infos never cost.
func scoreFromFlags(flags []Flag, errWeight, warnWeight float64) float64 {
	var errs, warns int
	for _, f := range flags {
		switch f.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warns++
		}
	}
	return math.Max(0, 1-errWeight*float64(errs)-warnWeight*float64(warns))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
