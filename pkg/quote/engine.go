// Package quote turns one freight request into priced carrier quotes. The
// engine validates, consults the result cache, resolves road distance and
// zones, collects carriers from the file registry and the document store,
// prices them in a bounded fan-out and reviews the cohort with SmartShield.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/distance"
	"github.com/shipkaro/freightrate/pkg/docdb"
	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/pricing"
	"github.com/shipkaro/freightrate/pkg/registry"
	"github.com/shipkaro/freightrate/pkg/resultcache"
	"github.com/shipkaro/freightrate/pkg/shield"
)

const (
	subsystem        = "quote"
	defaultBatchSize = 8
)

// CarrierSource supplies the per-request document-store fetches. A nil
// source quotes from the carrier files alone.
type CarrierSource interface {
	TiedUpCarriersForRoute(ctx context.Context, ownerID string, origin, dest geo.Pincode) ([]docdb.TiedUpCarrierDoc, error)
	PublicCarriersForRoute(ctx context.Context, origin, dest geo.Pincode) ([]docdb.PublicCarrierDoc, error)
	PricesForCarriers(ctx context.Context, ids []string) (map[string]docdb.PriceDoc, error)
	Customer(ctx context.Context, customerID string) (*docdb.CustomerDoc, error)
}

// Catalog is the file-backed carrier lookup the engine quotes from.
type Catalog interface {
	ForRoute(origin, dest geo.Pincode) []*registry.Entry
}

type Config struct {
	Logger   *slog.Logger
	Zones    *geo.ZoneIndex
	Catalog  Catalog
	Distance distance.Service

	// Source, Cache and Resolver are optional; a nil Source skips the
	// document store, a nil Cache disables memoisation, a nil Resolver gets
	// the default fallback-vendor list.
	Source   CarrierSource
	Cache    resultcache.Store
	Resolver *Resolver

	// BatchSize bounds the pricing fan-out; 0 means 8.
	BatchSize int

	// CacheTTL overrides the result cache TTL; 0 means the store default.
	CacheTTL time.Duration
}

// Engine computes quote responses. Safe for concurrent use.
type Engine struct {
	logger    *slog.Logger
	zones     *geo.ZoneIndex
	catalog   Catalog
	source    CarrierSource
	distance  distance.Service
	cache     resultcache.Store
	resolver  *Resolver
	batchSize int
	cacheTTL  time.Duration
}

func New(cfg Config) (*Engine, error) {
	if cfg.Zones == nil {
		return nil, errors.New("quote: zone index is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("quote: carrier catalog is required")
	}
	if cfg.Distance == nil {
		return nil, errors.New("quote: distance service is required")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewResolver()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Engine{
		logger:    cfg.Logger.With("subsystem", subsystem),
		zones:     cfg.Zones,
		catalog:   cfg.Catalog,
		source:    cfg.Source,
		distance:  cfg.Distance,
		cache:     cfg.Cache,
		resolver:  resolver,
		batchSize: batchSize,
		cacheTTL:  cfg.CacheTTL,
	}, nil
}

// CarrierCounts breaks down where the quoting cohort came from and what
// happened to it.
type CarrierCounts struct {
	Files      int `json:"files"`
	TiedUp     int `json:"tiedUp"`
	Public     int `json:"public"`
	Overridden int `json:"overridden"`
	Evaluated  int `json:"evaluated"`
	Quoted     int `json:"quoted"`
}

// Debug carries per-request diagnostics alongside the quotes.
type Debug struct {
	TookMs        int64         `json:"tookMs"`
	CarrierCounts CarrierCounts `json:"carrierCounts"`
	Subscribed    bool          `json:"subscribed"`
	Error         bool          `json:"error,omitempty"`
	ErrorType     string        `json:"errorType,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
}

// Response is one full quote result. The result arrays are never nil and
// carry no imposed order; consumers sort.
type Response struct {
	TiedUpResult  []pricing.Quote `json:"tiedUpResult"`
	CompanyResult []pricing.Quote `json:"companyResult"`
	DistanceKm    float64         `json:"distanceKm"`
	DistanceText  string          `json:"distanceText"`
	EstimatedDays int             `json:"estimatedDays"`
	SmartShield   shield.Report   `json:"smartShield"`
	FromCache     bool            `json:"fromCache,omitempty"`
	Debug         Debug           `json:"debug"`
}

// Quote runs one request end to end. The returned error is always a
// *RequestError; carrier-level trouble never fails the request.
func (e *Engine) Quote(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if rerr := req.Normalize(); rerr != nil {
		requestsTotal.WithLabelValues(statusInvalid).Inc()
		return nil, rerr
	}

	key := resultcache.Fingerprint(req.OwnerCustomerID, req.Origin, req.Destination, req.Mode, req.InvoiceValue, req.Boxes)
	if resp := e.fromCache(ctx, key); resp != nil {
		resp.Debug.TookMs = time.Since(start).Milliseconds()
		requestsTotal.WithLabelValues(statusCached).Inc()
		return resp, nil
	}

	route, err := e.distance.RouteDistance(ctx, req.Origin, req.Destination)
	if err != nil {
		requestsTotal.WithLabelValues(statusDistance).Inc()
		return nil, routeError(req, err)
	}

	originZone, ok := e.zones.ZoneOf(req.Origin)
	if !ok {
		requestsTotal.WithLabelValues(statusInvalid).Inc()
		return nil, &RequestError{Code: CodePincodeNotFound,
			Message: fmt.Sprintf("origin %d is not in the zone catalog", req.Origin)}
	}
	destZone, ok := e.zones.ZoneOf(req.Destination)
	if !ok {
		requestsTotal.WithLabelValues(statusInvalid).Inc()
		return nil, &RequestError{Code: CodePincodeNotFound,
			Message: fmt.Sprintf("destination %d is not in the zone catalog", req.Destination)}
	}

	resp := e.quoteCarriers(ctx, req, route, originZone, destZone)
	resp.Debug.TookMs = time.Since(start).Milliseconds()
	quoteDuration.Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(statusOK).Inc()

	// A cancelled request must not publish a possibly truncated result.
	if ctx.Err() == nil && len(resp.TiedUpResult)+len(resp.CompanyResult) > 0 {
		e.writeCache(ctx, key, resp)
	}
	return resp, nil
}

// routeError maps a distance failure onto the client error surface.
func routeError(req *Request, err error) *RequestError {
	switch {
	case errors.Is(err, distance.ErrNoRoadRoute):
		return &RequestError{Code: CodeNoRoadRoute,
			Message: fmt.Sprintf("no road route between %d and %d", req.Origin, req.Destination)}
	case errors.Is(err, distance.ErrPincodeNotFound):
		return &RequestError{Code: CodePincodeNotFound,
			Message: "route endpoints are not known to the distance service"}
	case errors.Is(err, distance.ErrAPIKeyMissing):
		return &RequestError{Code: CodeAPIKeyMissing, Message: "distance API key is not configured"}
	case errors.Is(err, distance.ErrAPITimeout):
		return &RequestError{Code: CodeAPITimeout, Message: "distance lookup timed out"}
	default:
		return &RequestError{Code: CodeDistanceAPI, Message: "distance lookup failed"}
	}
}

// quoteCarriers runs the carrier pipeline. Anything that goes wrong past
// this point degrades to an empty result with debug details, never a
// failed request.
func (e *Engine) quoteCarriers(ctx context.Context, req *Request, route distance.Route, originZone, destZone string) (resp *Response) {
	resp = &Response{
		TiedUpResult:  []pricing.Quote{},
		CompanyResult: []pricing.Quote{},
		DistanceKm:    route.Km,
		DistanceText:  fmt.Sprintf("%d km", int(math.Round(route.Km))),
		EstimatedDays: route.Days,
		Debug:         Debug{Subscribed: true},
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "quote pipeline panicked",
				slog.String("origin", req.Origin.String()),
				slog.String("destination", req.Destination.String()),
				slog.String("panic", fmt.Sprint(rec)))
			resp.TiedUpResult = []pricing.Quote{}
			resp.CompanyResult = []pricing.Quote{}
			resp.SmartShield = shield.Report{}
			resp.Debug.Error = true
			resp.Debug.ErrorType = "panic"
			resp.Debug.ErrorMessage = fmt.Sprint(rec)
		}
	}()

	entries, tiedDocs, pubDocs, prices := e.collectCarriers(ctx, req, resp)
	jobs := e.buildJobs(req, resp, entries, tiedDocs, pubDocs, prices, originZone, destZone)
	resp.Debug.CarrierCounts.Evaluated = len(jobs)

	weights := pricing.NewVolumetricWeights(req.Boxes)
	quotes := e.evaluate(ctx, jobs, weights, req.InvoiceValue)
	resp.Debug.CarrierCounts.Quoted = len(quotes)

	for _, q := range quotes {
		if q.TiedUp {
			resp.TiedUpResult = append(resp.TiedUpResult, q)
		} else {
			resp.CompanyResult = append(resp.CompanyResult, q)
		}
	}

	cohort := make([]pricing.Quote, 0, len(quotes))
	cohort = append(cohort, resp.TiedUpResult...)
	cohort = append(cohort, resp.CompanyResult...)
	resp.SmartShield = shield.Evaluate(cohort)
	return resp
}

// collectCarriers gathers the quoting cohort: file-backed carriers visible
// to the owner plus the document-store fetches, run in parallel. A failed
// store query contributes nothing instead of failing the request.
func (e *Engine) collectCarriers(ctx context.Context, req *Request, resp *Response) ([]*registry.Entry, []docdb.TiedUpCarrierDoc, []docdb.PublicCarrierDoc, map[string]docdb.PriceDoc) {
	all := e.catalog.ForRoute(req.Origin, req.Destination)
	entries := make([]*registry.Entry, 0, len(all))
	for _, entry := range all {
		// Another owner's negotiated carriers stay invisible.
		if owner := entry.CustomerID(); owner != "" && owner != req.OwnerCustomerID {
			continue
		}
		entries = append(entries, entry)
	}
	resp.Debug.CarrierCounts.Files = len(entries)

	if e.source == nil {
		return entries, nil, nil, nil
	}

	var (
		tiedDocs []docdb.TiedUpCarrierDoc
		pubDocs  []docdb.PublicCarrierDoc
	)
	var g errgroup.Group
	g.Go(func() error {
		docs, err := e.source.TiedUpCarriersForRoute(ctx, req.OwnerCustomerID, req.Origin, req.Destination)
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "tied-up carrier query failed",
				slog.String("err", err.Error()))
			return nil
		}
		tiedDocs = docs
		return nil
	})
	g.Go(func() error {
		docs, err := e.source.PublicCarriersForRoute(ctx, req.Origin, req.Destination)
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "public carrier query failed",
				slog.String("err", err.Error()))
			return nil
		}
		pubDocs = docs
		return nil
	})
	g.Go(func() error {
		owner, err := e.source.Customer(ctx, req.OwnerCustomerID)
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "customer lookup failed",
				slog.String("err", err.Error()))
			return nil
		}
		if owner != nil {
			resp.Debug.Subscribed = owner.IsSubscribed()
		}
		return nil
	})
	_ = g.Wait()

	var prices map[string]docdb.PriceDoc
	if len(pubDocs) > 0 {
		ids := make([]string, 0, len(pubDocs))
		for i := range pubDocs {
			ids = append(ids, pubDocs[i].CarrierID())
		}
		var err error
		prices, err = e.source.PricesForCarriers(ctx, ids)
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "carrier price query failed",
				slog.String("err", err.Error()))
		}
	}

	resp.Debug.CarrierCounts.TiedUp = len(tiedDocs)
	resp.Debug.CarrierCounts.Public = len(pubDocs)
	return entries, tiedDocs, pubDocs, prices
}

// carrierJob is one carrier ready for pricing, zones already resolved.
type carrierJob struct {
	id         string
	name       string
	source     string
	tiedUp     bool
	originZone string
	destZone   string
	destODA    bool
	rate       carrier.PriceRate
	rates      carrier.ZoneRates
}

// buildJobs shapes every eligible carrier into a pricing job. Store
// carriers lose to their file-backed twins here.
func (e *Engine) buildJobs(req *Request, resp *Response, entries []*registry.Entry, tiedDocs []docdb.TiedUpCarrierDoc, pubDocs []docdb.PublicCarrierDoc, prices map[string]docdb.PriceDoc, originZone, destZone string) []carrierJob {
	jobs := make([]carrierJob, 0, len(entries)+len(tiedDocs)+len(pubDocs))
	for _, entry := range entries {
		jobs = append(jobs, carrierJob{
			id:         entry.ID(),
			name:       entry.Name(),
			source:     carrier.SourceUTSF,
			tiedUp:     entry.CustomerID() != "",
			originZone: entry.RateZone(req.Origin, originZone),
			destZone:   entry.RateZone(req.Destination, destZone),
			destODA:    entry.IsODA(req.Destination),
			rate:       entry.PriceRate(),
			rates:      entry.ZoneRates(),
		})
	}

	overrides := OverrideSet(entries)
	for i := range tiedDocs {
		doc := &tiedDocs[i]
		if !doc.IsActive() {
			continue
		}
		if e.resolver.Overridden(overrides, doc.CarrierID(), doc.Name) {
			resp.Debug.CarrierCounts.Overridden++
			carriersDropped.WithLabelValues(dropOverridden).Inc()
			continue
		}
		if job, ok := tiedUpJob(doc, req, originZone, destZone); ok {
			jobs = append(jobs, job)
		}
	}
	for i := range pubDocs {
		doc := &pubDocs[i]
		if e.resolver.Overridden(overrides, doc.CarrierID(), doc.Name) {
			resp.Debug.CarrierCounts.Overridden++
			carriersDropped.WithLabelValues(dropOverridden).Inc()
			continue
		}
		price, ok := prices[doc.CarrierID()]
		if !ok {
			carriersDropped.WithLabelValues(dropNoPrice).Inc()
			continue
		}
		if job, ok := publicJob(doc, &price, req, originZone, destZone); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// pinInfo is the per-pincode view a store carrier declares for a route
// endpoint.
type pinInfo struct {
	zone string
	oda  bool
}

// tiedUpJob shapes a tied-up store document into a pricing job. The
// zoneConfig override wins the zone lookup, then the zone recorded on the
// pin entry, then the master zone.
func tiedUpJob(doc *docdb.TiedUpCarrierDoc, req *Request, originZone, destZone string) (carrierJob, bool) {
	pins := make(map[geo.Pincode]pinInfo, len(doc.Serviceability))
	for _, entry := range doc.Serviceability {
		if !entry.IsActive() {
			continue
		}
		pins[entry.Pincode.Pincode] = pinInfo{zone: geo.NormalizeZone(entry.Zone), oda: entry.IsODA}
	}
	origin, ok := pins[req.Origin]
	if !ok {
		return carrierJob{}, false
	}
	dest, ok := pins[req.Destination]
	if !ok {
		return carrierJob{}, false
	}

	job := carrierJob{
		id:         doc.CarrierID(),
		name:       doc.Name,
		source:     carrier.SourceDB,
		tiedUp:     true,
		originZone: docZone(doc.ZoneConfig, req.Origin, origin.zone, originZone),
		destZone:   docZone(doc.ZoneConfig, req.Destination, dest.zone, destZone),
		destODA:    dest.oda,
	}
	if doc.Prices != nil {
		job.rate = doc.Prices.PriceRate
		job.rates = doc.Prices.PriceChart
		if doc.Prices.InvoiceValueCharges != nil {
			job.rate.InvoiceValue = *doc.Prices.InvoiceValueCharges
		}
	}
	return job, true
}

// publicJob shapes a public store document plus its price document into a
// pricing job.
func publicJob(doc *docdb.PublicCarrierDoc, price *docdb.PriceDoc, req *Request, originZone, destZone string) (carrierJob, bool) {
	pins := make(map[geo.Pincode]pinInfo, len(doc.Service))
	for _, entry := range doc.Service {
		pins[entry.Pincode.Pincode] = pinInfo{zone: geo.NormalizeZone(entry.Zone), oda: entry.ODA()}
	}
	origin, ok := pins[req.Origin]
	if !ok {
		return carrierJob{}, false
	}
	dest, ok := pins[req.Destination]
	if !ok {
		return carrierJob{}, false
	}
	return carrierJob{
		id:         doc.CarrierID(),
		name:       doc.Name,
		source:     carrier.SourceDB,
		originZone: zoneOr(origin.zone, originZone),
		destZone:   zoneOr(dest.zone, destZone),
		destODA:    dest.oda,
		rate:       price.PriceRate,
		rates:      price.ZoneRates,
	}, true
}

// docZone resolves the rate zone for one endpoint of a tied-up store
// carrier.
func docZone(overrides map[string]string, pin geo.Pincode, pinZone, masterZone string) string {
	if z := geo.NormalizeZone(overrides[pin.String()]); z != "" {
		return z
	}
	return zoneOr(pinZone, masterZone)
}

func zoneOr(zone, fallback string) string {
	if zone != "" {
		return zone
	}
	return fallback
}

// evaluate prices the jobs with a bounded number of workers. One failing
// or panicking carrier drops that carrier only.
func (e *Engine) evaluate(ctx context.Context, jobs []carrierJob, weights *pricing.VolumetricWeights, invoiceValue float64) []pricing.Quote {
	results := make([]pricing.Quote, len(jobs))
	priced := make([]bool, len(jobs))

	var g errgroup.Group
	g.SetLimit(e.batchSize)
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			job := &jobs[i]
			defer func() {
				if rec := recover(); rec != nil {
					carriersDropped.WithLabelValues(dropPanic).Inc()
					e.logger.LogAttrs(ctx, slog.LevelError, "carrier evaluation panicked",
						slog.String("carrier", job.id),
						slog.String("panic", fmt.Sprint(rec)))
				}
			}()
			q, err := pricing.Calculate(pricing.Input{
				CarrierID:    job.id,
				CarrierName:  job.name,
				Source:       job.source,
				TiedUp:       job.tiedUp,
				OriginZone:   job.originZone,
				DestZone:     job.destZone,
				IsDestODA:    job.destODA,
				InvoiceValue: invoiceValue,
				Rate:         job.rate,
				ZoneRates:    job.rates,
				Weights:      weights,
			})
			if errors.Is(err, pricing.ErrNoRate) {
				carriersDropped.WithLabelValues(dropNoRate).Inc()
				return nil
			}
			if err != nil {
				carriersDropped.WithLabelValues(dropError).Inc()
				e.logger.LogAttrs(ctx, slog.LevelWarn, "carrier evaluation failed",
					slog.String("carrier", job.id),
					slog.String("err", err.Error()))
				return nil
			}
			carriersEvaluated.WithLabelValues(job.source).Inc()
			results[i] = q
			priced[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]pricing.Quote, 0, len(jobs))
	for i, ok := range priced {
		if ok {
			out = append(out, results[i])
		}
	}
	return out
}

// fromCache returns the decoded cached response, or nil on a miss or any
// cache trouble.
func (e *Engine) fromCache(ctx context.Context, key string) *Response {
	if e.cache == nil {
		return nil
	}
	payload, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "cache read failed", slog.String("err", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "dropping undecodable cache entry",
			slog.String("err", err.Error()))
		return nil
	}
	resp.FromCache = true
	return &resp
}

func (e *Engine) writeCache(ctx context.Context, key string, resp *Response) {
	if e.cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "cache encode failed", slog.String("err", err.Error()))
		return
	}
	if err := e.cache.Set(ctx, key, payload, e.cacheTTL); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "cache write failed", slog.String("err", err.Error()))
	}
}
