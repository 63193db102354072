// Package pricing implements the freight formula: a pure computation from a
// carrier pricing contract, a shipment and a resolved route to an itemised
// quote.
package pricing

import (
	"math"

	"github.com/shipkaro/freightrate/pkg/carrier"
)

// Box is one shipment line: dimensions in centimetres, weight in kg.
type Box struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
	Count  int     `json:"count"`
}

// StandardDivisors are the volumetric divisors carriers commonly use. Weights
// for these are computed once per request and shared across the carrier
// fan-out.
var StandardDivisors = []float64{4500, 5000, 5500, 6000}

// VolumetricWeights holds the per-request precomputed weights. Immutable
// after construction, so safe to share across evaluation goroutines.
type VolumetricWeights struct {
	boxes     []Box
	actual    float64
	byDivisor map[float64]float64
}

// NewVolumetricWeights sums actual weight and precomputes volumetric weight
// for the standard divisors.
func NewVolumetricWeights(boxes []Box) *VolumetricWeights {
	v := &VolumetricWeights{
		boxes:     boxes,
		byDivisor: make(map[float64]float64, len(StandardDivisors)),
	}
	for _, b := range boxes {
		count := b.Count
		if count < 1 {
			count = 1
		}
		v.actual += b.Weight * float64(count)
	}
	for _, d := range StandardDivisors {
		v.byDivisor[d] = volumetricFor(boxes, d)
	}
	return v
}

// Actual returns the declared shipment weight (Σ weight·count).
func (v *VolumetricWeights) Actual() float64 {
	return v.actual
}

// For returns the volumetric weight for a divisor, from the precomputed set
// when possible. Nonstandard divisors are computed on the fly without
// mutating the cache.
func (v *VolumetricWeights) For(divisor float64) float64 {
	if divisor <= 0 {
		divisor = carrier.DefaultDivisor
	}
	if w, ok := v.byDivisor[divisor]; ok {
		return w
	}
	return volumetricFor(v.boxes, divisor)
}

// volumetricFor sums ⌈(L·W·H·count)/divisor⌉ per box.
func volumetricFor(boxes []Box, divisor float64) float64 {
	var total float64
	for _, b := range boxes {
		count := b.Count
		if count < 1 {
			count = 1
		}
		cubic := b.Length * b.Width * b.Height * float64(count)
		if cubic <= 0 {
			continue
		}
		total += math.Ceil(cubic / divisor)
	}
	return total
}
