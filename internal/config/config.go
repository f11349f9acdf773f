package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds process level settings. The hyperparameters of an experiment
// live in experiment documents, not here.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`

		// RateLimit caps API requests per second across all clients; 0 disables it.
		RateLimit float64 `env:"HTTP_RATE_LIMIT" envDefault:"0"`
		RateBurst int     `env:"HTTP_RATE_BURST" envDefault:"50"`

		MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"4194304"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Evaluation struct {
		// Workers bounds evaluation parallelism; 0 means GOMAXPROCS.
		Workers  int    `env:"EVAL_WORKERS" envDefault:"0"`
		DataDir  string `env:"EVAL_DATA_DIR" envDefault:"data"`
		MaxBatch int    `env:"EVAL_MAX_BATCH" envDefault:"1024"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if cfg.Evaluation.Workers < 0 {
		return nil, fmt.Errorf("EVAL_WORKERS must not be negative, got %d", cfg.Evaluation.Workers)
	}
	if cfg.Evaluation.Workers == 0 {
		cfg.Evaluation.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.HTTP.RateLimit < 0 {
		return nil, fmt.Errorf("HTTP_RATE_LIMIT must not be negative, got %g", cfg.HTTP.RateLimit)
	}
	if cfg.HTTP.MaxBodyBytes < 1 {
		return nil, fmt.Errorf("HTTP_MAX_BODY_BYTES must be positive, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.RateBurst < 1 {
		return nil, fmt.Errorf("HTTP_RATE_BURST must be positive when HTTP_RATE_LIMIT is set, got %d", cfg.HTTP.RateBurst)
	}
	if cfg.Evaluation.MaxBatch <= 0 {
		return nil, fmt.Errorf("EVAL_MAX_BATCH must be positive, got %d", cfg.Evaluation.MaxBatch)
	}

	return cfg, nil
}
