// Package nearest finds a substitute destination when the requested pincode
// is serviced by nobody: the closest pincode some owner-relevant carrier can
// actually price.
package nearest

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/docdb"
	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/pricing"
	"github.com/shipkaro/freightrate/pkg/registry"
)

var ErrNoServiceableCandidate = errors.New("no serviceable pincode near destination")

const (
	subsystem = "nearest"

	// testWeight is the probe shipment, heavy enough that per-kg rates
	// produce a nonzero total.
	testWeight = 100.0

	// candidateCap bounds how many ranked candidates get priced.
	candidateCap = 50

	// radiusKm bounds the distance-ranked search around the destination.
	radiusKm = 200.0
)

// Catalog is the registry surface the finder reads.
type Catalog interface {
	All() []*registry.Entry
	PriceOf(id string, origin, dest geo.Pincode, weights *pricing.VolumetricWeights, invoiceValue float64) (pricing.Quote, error)
}

// CarrierSource supplies the owner's store carriers; nil restricts the
// search to carrier files.
type CarrierSource interface {
	TiedUpCarriers(ctx context.Context, ownerID string) ([]docdb.TiedUpCarrierDoc, error)
}

type Config struct {
	Logger  *slog.Logger
	Zones   *geo.ZoneIndex
	Catalog Catalog

	// Centroids enables distance ranking; without it candidates rank by
	// numeric pincode difference.
	Centroids *geo.CentroidIndex
	Source    CarrierSource
}

// Finder ranks and verifies substitute destinations. Safe for concurrent
// use.
type Finder struct {
	logger    *slog.Logger
	zones     *geo.ZoneIndex
	centroids *geo.CentroidIndex
	catalog   Catalog
	source    CarrierSource
}

func New(cfg Config) (*Finder, error) {
	if cfg.Zones == nil {
		return nil, errors.New("nearest: zone index is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("nearest: carrier catalog is required")
	}
	return &Finder{
		logger:    cfg.Logger.With("subsystem", subsystem),
		zones:     cfg.Zones,
		centroids: cfg.Centroids,
		catalog:   cfg.Catalog,
		source:    cfg.Source,
	}, nil
}

// Result names the substitute destination and the carriers that price it.
// DistanceKm is zero when candidates were ranked by pincode difference.
type Result struct {
	NearestPincode geo.Pincode `json:"nearestPincode"`
	DistanceKm     float64     `json:"distanceKm,omitempty"`
	ServedBy       []string    `json:"servedBy"`
}

// Find walks candidates nearest-first and returns the first one at least
// one carrier prices for origin->candidate.
func (f *Finder) Find(ctx context.Context, origin, dest geo.Pincode, ownerID string) (*Result, error) {
	entries, docs := f.carriers(ctx, ownerID)

	set := make(map[geo.Pincode]struct{})
	for _, entry := range entries {
		for _, pin := range entry.ServiceablePincodes() {
			set[pin] = struct{}{}
		}
	}
	for i := range docs {
		for _, pin := range docs[i].Serviceability {
			if pin.IsActive() && pin.Pincode.IsValid() {
				set[pin.Pincode.Pincode] = struct{}{}
			}
		}
	}
	delete(set, dest)
	if len(set) == 0 {
		return nil, ErrNoServiceableCandidate
	}

	candidates := f.rank(dest, set)
	weights := pricing.NewVolumetricWeights([]pricing.Box{{Weight: testWeight, Count: 1}})

	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		served := f.verify(origin, c.pin, entries, docs, weights)
		if len(served) == 0 {
			continue
		}
		f.logger.LogAttrs(ctx, slog.LevelInfo, "substitute destination found",
			slog.String("destination", dest.String()),
			slog.String("substitute", c.pin.String()),
			slog.Int("carriers", len(served)))
		return &Result{NearestPincode: c.pin, DistanceKm: c.km, ServedBy: served}, nil
	}
	return nil, ErrNoServiceableCandidate
}

// carriers assembles the owner-relevant pool: the owner's own carrier files
// when any exist, the shared files otherwise, plus the owner's active store
// carriers. Other owners' files stay invisible.
func (f *Finder) carriers(ctx context.Context, ownerID string) ([]*registry.Entry, []docdb.TiedUpCarrierDoc) {
	var shared, owned []*registry.Entry
	for _, entry := range f.catalog.All() {
		if !entry.Approved() {
			continue
		}
		switch owner := entry.CustomerID(); {
		case owner == "":
			shared = append(shared, entry)
		case owner == ownerID:
			owned = append(owned, entry)
		}
	}
	entries := shared
	if len(owned) > 0 {
		entries = owned
	}

	var docs []docdb.TiedUpCarrierDoc
	if f.source != nil && ownerID != "" {
		fetched, err := f.source.TiedUpCarriers(ctx, ownerID)
		if err != nil {
			f.logger.LogAttrs(ctx, slog.LevelWarn, "store carriers unavailable for nearest search",
				slog.String("err", err.Error()))
		}
		for i := range fetched {
			if fetched[i].IsActive() {
				docs = append(docs, fetched[i])
			}
		}
	}
	return entries, docs
}

type candidate struct {
	pin geo.Pincode
	km  float64
}

// rank orders candidates nearest-first. With a centroid for the destination
// the metric is haversine distance capped at radiusKm; candidates without a
// centroid cannot be placed and drop out. Without one the metric is the
// numeric pincode difference, which tracks geography loosely because
// adjacent ranges are allocated regionally. Ties break on the lower
// pincode.
func (f *Finder) rank(dest geo.Pincode, set map[geo.Pincode]struct{}) []candidate {
	var out []candidate
	if f.centroids != nil {
		if destAt, ok := f.centroids.CoordsOf(dest); ok {
			for pin := range set {
				at, ok := f.centroids.CoordsOf(pin)
				if !ok {
					continue
				}
				km := geo.HaversineKm(destAt, at)
				if km > radiusKm {
					continue
				}
				out = append(out, candidate{pin: pin, km: km})
			}
			sort.Slice(out, func(i, j int) bool {
				if out[i].km != out[j].km {
					return out[i].km < out[j].km
				}
				return out[i].pin < out[j].pin
			})
			return capCandidates(out)
		}
	}

	for pin := range set {
		out = append(out, candidate{pin: pin})
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := pinDiff(out[i].pin, dest), pinDiff(out[j].pin, dest)
		if di != dj {
			return di < dj
		}
		return out[i].pin < out[j].pin
	})
	return capCandidates(out)
}

func capCandidates(out []candidate) []candidate {
	if len(out) > candidateCap {
		return out[:candidateCap]
	}
	return out
}

func pinDiff(a, b geo.Pincode) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// verify prices the probe shipment origin->candidate against every carrier
// in the pool and returns the names of those producing a positive total.
func (f *Finder) verify(origin, candidate geo.Pincode, entries []*registry.Entry, docs []docdb.TiedUpCarrierDoc, weights *pricing.VolumetricWeights) []string {
	var served []string
	for _, entry := range entries {
		if !entry.Serviceable(candidate) {
			continue
		}
		q, err := f.catalog.PriceOf(entry.ID(), origin, candidate, weights, 1)
		if err != nil || q.TotalCharges <= 0 {
			continue
		}
		served = append(served, entry.Name())
	}
	for i := range docs {
		if q, ok := f.priceDoc(&docs[i], origin, candidate, weights); ok && q.TotalCharges > 0 {
			served = append(served, docs[i].Name)
		}
	}
	return served
}

// priceDoc quotes a store carrier for origin->candidate with the same zone
// precedence the quote engine uses: zoneConfig, then the pin entry's zone,
// then the master zone.
func (f *Finder) priceDoc(doc *docdb.TiedUpCarrierDoc, origin, candidate geo.Pincode, weights *pricing.VolumetricWeights) (pricing.Quote, bool) {
	if doc.Prices == nil {
		return pricing.Quote{}, false
	}

	type pinView struct {
		zone string
		oda  bool
	}
	pins := make(map[geo.Pincode]pinView, len(doc.Serviceability))
	for _, entry := range doc.Serviceability {
		if !entry.IsActive() {
			continue
		}
		pins[entry.Pincode.Pincode] = pinView{zone: geo.NormalizeZone(entry.Zone), oda: entry.IsODA}
	}
	from, ok := pins[origin]
	if !ok {
		return pricing.Quote{}, false
	}
	to, ok := pins[candidate]
	if !ok {
		return pricing.Quote{}, false
	}

	masterOrigin, _ := f.zones.ZoneOf(origin)
	masterDest, _ := f.zones.ZoneOf(candidate)
	rate := doc.Prices.PriceRate
	if doc.Prices.InvoiceValueCharges != nil {
		rate.InvoiceValue = *doc.Prices.InvoiceValueCharges
	}

	q, err := pricing.Calculate(pricing.Input{
		CarrierID:    doc.CarrierID(),
		CarrierName:  doc.Name,
		Source:       carrier.SourceDB,
		TiedUp:       true,
		OriginZone:   zonePick(doc.ZoneConfig, origin, from.zone, masterOrigin),
		DestZone:     zonePick(doc.ZoneConfig, candidate, to.zone, masterDest),
		IsDestODA:    to.oda,
		InvoiceValue: 1,
		Rate:         rate,
		ZoneRates:    doc.Prices.PriceChart,
		Weights:      weights,
	})
	if err != nil {
		return pricing.Quote{}, false
	}
	return q, true
}

func zonePick(overrides map[string]string, pin geo.Pincode, pinZone, masterZone string) string {
	if z := geo.NormalizeZone(overrides[pin.String()]); z != "" {
		return z
	}
	if pinZone != "" {
		return pinZone
	}
	return masterZone
}
