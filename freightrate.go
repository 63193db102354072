package freightrate

const (
	ServiceName  = "freightrate_engine"
	MetricPrefix = "freightrate"
)
