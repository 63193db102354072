package config

import (
	"time"
)

type Config struct {
	Logger struct {
		Level  string
		Format string
		Output string
	}

	Geo struct {
		PincodeFile  string
		CentroidFile string
	}

	Registry struct {
		Dir             string
		RefreshInterval time.Duration
	}

	Store struct {
		URI      string
		Database string
	}

	Cache struct {
		RedisAddr string
		TTL       time.Duration
	}

	Distance struct {
		BaseURL string
		APIKey  string
		Timeout time.Duration
	}

	Quote struct {
		BatchSize       int
		FallbackVendors StringSliceFlag
	}

	Server struct {
		Address string
		Path    string
		Timeout time.Duration
	}
}
