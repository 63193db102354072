package shield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipkaro/freightrate/pkg/pricing"
)

// cleanQuote builds a quote that trips no checks on its own.
func cleanQuote(id string, total float64) pricing.Quote {
	return pricing.Quote{
		CarrierID:                       id,
		CarrierName:                     "Carrier " + id,
		UnitPrice:                       10,
		ActualWeight:                    10,
		VolumetricWeight:                5,
		ChargeableWeight:                10,
		BaseFreight:                     total,
		EffectiveBaseFreight:            total,
		TotalCharges:                    total,
		TotalChargesWithoutInvoiceAddon: total,
	}
}

func hasFlag(flags []Flag, code string) bool {
	for _, f := range flags {
		if f.Code == code {
			return true
		}
	}
	return false
}

func TestEvaluateCleanQuote(t *testing.T) {
	r := Evaluate([]pricing.Quote{cleanQuote("C-1", 550)})
	require.Len(t, r.QuoteFlags, 1)
	assert.Empty(t, r.QuoteFlags[0].Flags)
	assert.Equal(t, 1.0, r.QuoteFlags[0].Score)
	assert.Equal(t, 1.0, r.OverallScore)
	assert.Equal(t, Summary{}, r.Summary)
}

func TestEvaluatePerQuoteFlags(t *testing.T) {
	tests := map[string]struct {
		mutate   func(*pricing.Quote)
		wantCode string
		wantSev  Severity
	}{
		"nan total": {
			mutate:   func(q *pricing.Quote) { q.TotalCharges = math.NaN() },
			wantCode: CodeNaNTotal,
			wantSev:  SeverityError,
		},
		"negative total": {
			mutate:   func(q *pricing.Quote) { q.TotalCharges = -5 },
			wantCode: CodeNegativeTotal,
			wantSev:  SeverityError,
		},
		"negative base": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = -10
				q.EffectiveBaseFreight = -10
			},
			wantCode: CodeNegativeBase,
			wantSev:  SeverityError,
		},
		"weight mismatch": {
			mutate:   func(q *pricing.Quote) { q.ChargeableWeight = 20 },
			wantCode: CodeWeightMismatch,
			wantSev:  SeverityWarning,
		},
		"extreme volumetric": {
			mutate: func(q *pricing.Quote) {
				q.ActualWeight = 0.5
				q.VolumetricWeight = 100
				q.ChargeableWeight = 100
			},
			wantCode: CodeExtremeVolumetric,
			wantSev:  SeverityWarning,
		},
		"near zero weight": {
			mutate: func(q *pricing.Quote) {
				q.ActualWeight = 0.005
				q.VolumetricWeight = 0
				q.ChargeableWeight = 0.005
			},
			wantCode: CodeNearZeroWeight,
			wantSev:  SeverityWarning,
		},
		"min charges applied": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 110
				q.EffectiveBaseFreight = 550
			},
			wantCode: CodeMinChargesApplied,
			wantSev:  SeverityInfo,
		},
		"high unit price": {
			mutate:   func(q *pricing.Quote) { q.UnitPrice = 600 },
			wantCode: CodeHighUnitPrice,
			wantSev:  SeverityWarning,
		},
		"zero unit price with total": {
			mutate:   func(q *pricing.Quote) { q.UnitPrice = 0 },
			wantCode: CodeZeroUnitPrice,
			wantSev:  SeverityWarning,
		},
		"suspiciously cheap": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 20
				q.EffectiveBaseFreight = 20
				q.TotalCharges = 20
			},
			wantCode: CodeSuspiciouslyCheap,
			wantSev:  SeverityWarning,
		},
		"suspiciously expensive": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 6_000_000
				q.EffectiveBaseFreight = 6_000_000
				q.TotalCharges = 6_000_000
			},
			wantCode: CodeSuspiciouslyExpensive,
			wantSev:  SeverityWarning,
		},
		"fuel ratio": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 1000
				q.EffectiveBaseFreight = 1000
				q.FuelCharges = 600
				q.TotalCharges = 1600
			},
			wantCode: CodeFuelRatio,
			wantSev:  SeverityWarning,
		},
		"oda ratio": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 1000
				q.EffectiveBaseFreight = 1000
				q.ODACharges = 1100
				q.TotalCharges = 2100
			},
			wantCode: CodeODARatio,
			wantSev:  SeverityWarning,
		},
		"insurance ratio": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 1000
				q.EffectiveBaseFreight = 1000
				q.InsuranceCharges = 250
				q.TotalCharges = 1250
			},
			wantCode: CodeInsuranceRatio,
			wantSev:  SeverityWarning,
		},
		"phantom charges": {
			mutate: func(q *pricing.Quote) {
				q.BaseFreight = 0
				q.EffectiveBaseFreight = 0
				q.TotalCharges = 100
			},
			wantCode: CodePhantomCharges,
			wantSev:  SeverityError,
		},
		"total mismatch": {
			mutate:   func(q *pricing.Quote) { q.TotalCharges = 650 },
			wantCode: CodeTotalMismatch,
			wantSev:  SeverityWarning,
		},
		"no vendor id": {
			mutate:   func(q *pricing.Quote) { q.CarrierID = "" },
			wantCode: CodeNoVendorID,
			wantSev:  SeverityError,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			q := cleanQuote("C-1", 550)
			tt.mutate(&q)
			r := Evaluate([]pricing.Quote{q})
			require.Len(t, r.QuoteFlags, 1)
			flags := r.QuoteFlags[0].Flags
			require.True(t, hasFlag(flags, tt.wantCode), "expected %s in %+v", tt.wantCode, flags)
			for _, f := range flags {
				if f.Code == tt.wantCode {
					assert.Equal(t, tt.wantSev, f.Severity)
				}
			}
		})
	}
}

func TestEvaluateCohortOutliers(t *testing.T) {
	quotes := []pricing.Quote{
		cleanQuote("A", 100),
		cleanQuote("B", 500),
		cleanQuote("C", 550),
		cleanQuote("D", 600),
		cleanQuote("E", 3000),
	}
	r := Evaluate(quotes)

	require.Len(t, r.CohortFlags, 2)
	assert.True(t, hasFlag(r.CohortFlags, CodeOutlierCheap))
	assert.True(t, hasFlag(r.CohortFlags, CodeOutlierExpensive))

	// per-quote flags are clean; only the cohort pair counts
	assert.Equal(t, Summary{Warnings: 2}, r.Summary)
	assert.InDelta(t, 0.9, r.OverallScore, 1e-9)
	for _, qr := range r.QuoteFlags {
		assert.Equal(t, 1.0, qr.Score)
	}
}

func TestEvaluateCohortTooSmall(t *testing.T) {
	quotes := []pricing.Quote{
		cleanQuote("A", 100),
		cleanQuote("B", 3000),
	}
	r := Evaluate(quotes)
	assert.Empty(t, r.CohortFlags)
}

func TestEvaluateScores(t *testing.T) {
	// one clean error: missing vendor id on an otherwise clean quote
	q := cleanQuote("", 550)
	r := Evaluate([]pricing.Quote{q})
	require.Len(t, r.QuoteFlags, 1)
	require.Len(t, r.QuoteFlags[0].Flags, 1)
	assert.InDelta(t, 0.7, r.QuoteFlags[0].Score, 1e-9)
	assert.InDelta(t, 0.85, r.OverallScore, 1e-9)
	assert.Equal(t, Summary{Errors: 1}, r.Summary)

	// infos are free
	infoQuote := cleanQuote("C-2", 550)
	infoQuote.BaseFreight = 110
	infoQuote.EffectiveBaseFreight = 550
	r = Evaluate([]pricing.Quote{infoQuote})
	require.Len(t, r.QuoteFlags, 1)
	assert.Equal(t, 1.0, r.QuoteFlags[0].Score)
	assert.Equal(t, 1.0, r.OverallScore)
	assert.Equal(t, Summary{Infos: 1}, r.Summary)
}

func TestEvaluateScoreClampedAtZero(t *testing.T) {
	q := pricing.Quote{
		CarrierID:        "",
		TotalCharges:     -10,
		BaseFreight:      -10,
		ChargeableWeight: 0,
	}
	r := Evaluate([]pricing.Quote{q})
	require.Len(t, r.QuoteFlags, 1)
	assert.GreaterOrEqual(t, r.QuoteFlags[0].Score, 0.0)
	assert.GreaterOrEqual(t, r.OverallScore, 0.0)
}

func TestEvaluateSummaryCountsEveryFlag(t *testing.T) {
	quotes := []pricing.Quote{
		cleanQuote("A", 100),
		cleanQuote("B", 500),
		cleanQuote("C", 550),
		cleanQuote("D", 600),
		cleanQuote("E", 3000),
	}
	quotes[1].UnitPrice = 600 // high unit price warning
	quotes[2].CarrierID = ""  // missing vendor id error

	r := Evaluate(quotes)
	var perQuote int
	for _, qr := range r.QuoteFlags {
		perQuote += len(qr.Flags)
	}
	total := r.Summary.Errors + r.Summary.Warnings + r.Summary.Infos
	assert.Equal(t, perQuote+len(r.CohortFlags), total)
}
