// Package distance resolves road distance and transit time between two
// pincodes. Production deployments call an HTTP routes API; a haversine
// estimate over the centroid catalog serves keyless deployments and as a
// fallback when the API is unavailable.
package distance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shipkaro/freightrate/pkg/geo"
)

var (
	ErrNoRoadRoute     = errors.New("no road route between pincodes")
	ErrPincodeNotFound = errors.New("pincode unknown to route lookup")
	ErrAPITimeout      = errors.New("routes api timed out")
	ErrAPIKeyMissing   = errors.New("routes api key not configured")
	ErrAPIFailure      = errors.New("routes api failure")
)

// Route provenance values.
const (
	SourceAPI       = "api"
	SourceHaversine = "haversine"
)

const (
	// roadFactor inflates great-circle distance to approximate road distance.
	roadFactor = 1.25
	// kmPerTransitDay is the assumed surface-transport coverage per day.
	kmPerTransitDay = 350.0
	minTransitDays  = 2
)

// Route is a resolved origin→destination road route.
type Route struct {
	Km     float64
	Days   int
	Source string
}

// Service resolves the road route between two pincodes.
type Service interface {
	RouteDistance(ctx context.Context, origin, dest geo.Pincode) (Route, error)
}

// EstimateDays converts road kilometres into a transit-day estimate.
func EstimateDays(km float64) int {
	days := int(math.Ceil(km/kmPerTransitDay)) + 1
	if days < minTransitDays {
		days = minTransitDays
	}
	return days
}

// Haversine estimates road routes from centroid great-circle distance.
type Haversine struct {
	centroids *geo.CentroidIndex
}

func NewHaversine(centroids *geo.CentroidIndex) *Haversine {
	return &Haversine{centroids: centroids}
}

func (h *Haversine) RouteDistance(_ context.Context, origin, dest geo.Pincode) (Route, error) {
	a, ok := h.centroids.CoordsOf(origin)
	if !ok {
		return Route{}, fmt.Errorf("%w: %d has no centroid", ErrPincodeNotFound, origin)
	}
	b, ok := h.centroids.CoordsOf(dest)
	if !ok {
		return Route{}, fmt.Errorf("%w: %d has no centroid", ErrPincodeNotFound, dest)
	}
	km := geo.HaversineKm(a, b) * roadFactor
	return Route{Km: km, Days: EstimateDays(km), Source: SourceHaversine}, nil
}

// Fallback tries a primary service and falls back on availability errors.
// Definitive answers (no road route, unknown pincode) propagate: a second
// opinion cannot make a nonexistent route exist.
type Fallback struct {
	primary  Service
	fallback Service
	logger   *slog.Logger
}

func WithFallback(logger *slog.Logger, primary, fallback Service) *Fallback {
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("subsystem", "distance"),
	}
}

func (f *Fallback) RouteDistance(ctx context.Context, origin, dest geo.Pincode) (Route, error) {
	route, err := f.primary.RouteDistance(ctx, origin, dest)
	if err == nil {
		return route, nil
	}
	if errors.Is(err, ErrNoRoadRoute) || errors.Is(err, ErrPincodeNotFound) {
		return Route{}, err
	}
	f.logger.LogAttrs(ctx, slog.LevelWarn, "primary route lookup failed, falling back",
		slog.Int("origin", int(origin)),
		slog.Int("dest", int(dest)),
		slog.String("err", err.Error()))
	return f.fallback.RouteDistance(ctx, origin, dest)
}
