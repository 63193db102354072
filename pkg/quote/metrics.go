package quote

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "freightrate_quote_requests_total",
		Help: "Quote requests by terminal status",
	}, []string{"status"})

	quoteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "freightrate_quote_duration_seconds",
		Help: "End to end duration of freshly computed quote requests",
	})

	carriersEvaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "freightrate_quote_carriers_evaluated_total",
		Help: "Carriers priced during the quote fan-out, by source",
	}, []string{"source"})

	carriersDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "freightrate_quote_carriers_dropped_total",
		Help: "Carriers dropped during the quote fan-out, by reason",
	}, []string{"reason"})
)

// Status label values for requestsTotal.
const (
	statusOK       = "ok"
	statusCached   = "cached"
	statusInvalid  = "invalid"
	statusDistance = "distance_error"
)

// Reason label values for carriersDropped.
const (
	dropNoRate     = "no_rate"
	dropNoPrice    = "no_price_doc"
	dropOverridden = "overridden"
	dropError      = "error"
	dropPanic      = "panic"
)

// RegisterMetrics registers the engine's operational metrics.
func RegisterMetrics(registry prometheus.Registerer) {
	registry.MustRegister(requestsTotal)
	registry.MustRegister(quoteDuration)
	registry.MustRegister(carriersEvaluated)
	registry.MustRegister(carriersDropped)
}
