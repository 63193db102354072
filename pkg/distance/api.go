package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/matryer/try.v1"

	"github.com/shipkaro/freightrate/pkg/geo"
)

const (
	defaultTimeout = 8 * time.Second
	maxAttempts    = 3

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
	statusNotFound    = "NOT_FOUND"
)

type APIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// APIClient resolves routes through an HTTP routes API. Concurrent lookups
// for the same lane are coalesced; transient failures are retried up to
// maxAttempts before surfacing.
type APIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	group   singleflight.Group
}

func NewAPIClient(cfg APIConfig) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APIClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  cfg.Logger.With("subsystem", "distance"),
	}
}

type routeRequest struct {
	Origin      geo.Pincode `json:"origin"`
	Destination geo.Pincode `json:"destination"`
}

type routeResponse struct {
	Status string  `json:"status"`
	Km     float64 `json:"km"`
	Days   int     `json:"days"`
	Error  string  `json:"error,omitempty"`
}

func (c *APIClient) RouteDistance(ctx context.Context, origin, dest geo.Pincode) (Route, error) {
	if c.apiKey == "" {
		return Route{}, ErrAPIKeyMissing
	}
	key := fmt.Sprintf("%d:%d", origin, dest)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, origin, dest)
	})
	if err != nil {
		return Route{}, err
	}
	return v.(Route), nil
}

func (c *APIClient) fetch(ctx context.Context, origin, dest geo.Pincode) (Route, error) {
	var route Route
	err := try.Do(func(attempt int) (bool, error) {
		var transient bool
		var err error
		route, transient, err = c.call(ctx, origin, dest)
		return transient && attempt < maxAttempts, err
	})
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "route lookup failed",
			slog.Int("origin", int(origin)),
			slog.Int("dest", int(dest)),
			slog.String("err", err.Error()))
		return Route{}, err
	}
	return route, nil
}

// call performs one API round trip. The middle return reports whether the
// failure is transient and worth retrying.
func (c *APIClient) call(ctx context.Context, origin, dest geo.Pincode) (Route, bool, error) {
	body, err := json.Marshal(routeRequest{Origin: origin, Destination: dest})
	if err != nil {
		return Route{}, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/route", bytes.NewReader(body))
	if err != nil {
		return Route{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Route{}, false, fmt.Errorf("%w: %v", ErrAPITimeout, err)
		}
		return Route{}, true, fmt.Errorf("%w: %v", ErrAPIFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Route{}, true, fmt.Errorf("%w: status %d", ErrAPIFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Route{}, false, fmt.Errorf("%w: status %d", ErrAPIFailure, resp.StatusCode)
	}

	var rr routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Route{}, false, fmt.Errorf("%w: decoding response: %v", ErrAPIFailure, err)
	}
	switch rr.Status {
	case statusOK:
	case statusZeroResults:
		return Route{}, false, fmt.Errorf("%w: %d->%d", ErrNoRoadRoute, origin, dest)
	case statusNotFound:
		return Route{}, false, fmt.Errorf("%w: %d->%d", ErrPincodeNotFound, origin, dest)
	default:
		return Route{}, false, fmt.Errorf("%w: status %q %s", ErrAPIFailure, rr.Status, rr.Error)
	}
	if rr.Km < 0 {
		return Route{}, false, fmt.Errorf("%w: negative distance %f", ErrAPIFailure, rr.Km)
	}

	days := rr.Days
	if days <= 0 {
		days = EstimateDays(rr.Km)
	}
	return Route{Km: rr.Km, Days: days, Source: SourceAPI}, false, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
