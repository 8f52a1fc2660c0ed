package config

import (
	"fmt"
	"time"
)

// fileConfig mirrors Config with durations as strings ("10s", "1m").
// Absent keys leave the defaults untouched.
type fileConfig struct {
	Backend struct {
		BaseURL        *string `toml:"base_url"`
		RequestTimeout *string `toml:"request_timeout"`
		UploadTimeout  *string `toml:"upload_timeout"`
	} `toml:"backend"`
	Health struct {
		Interval         *string `toml:"interval"`
		RetryInitial     *string `toml:"retry_initial"`
		RetryMax         *string `toml:"retry_max"`
		FailureThreshold *uint   `toml:"failure_threshold"`
	} `toml:"health"`
	Pipeline struct {
		TokenDelay      *string `toml:"token_delay"`
		StatisticsDelay *string `toml:"statistics_delay"`
		VideoBaseDir    *string `toml:"video_base_dir"`
	} `toml:"pipeline"`
	MockServer struct {
		Address      *string `toml:"address"`
		ReadTimeout  *string `toml:"read_timeout"`
		WriteTimeout *string `toml:"write_timeout"`
	} `toml:"mock_server"`
	StoragePath *string `toml:"storage_path"`
	LogLevel    *string `toml:"log_level"`
	LogFormat   *string `toml:"log_format"`
}

func (fc fileConfig) apply(cfg *Config) error {
	setStr(&cfg.Backend.BaseURL, fc.Backend.BaseURL)
	setStr(&cfg.Pipeline.VideoBaseDir, fc.Pipeline.VideoBaseDir)
	setStr(&cfg.MockServer.Address, fc.MockServer.Address)
	setStr(&cfg.StoragePath, fc.StoragePath)
	setStr(&cfg.LogLevel, fc.LogLevel)
	setStr(&cfg.LogFormat, fc.LogFormat)
	if fc.Health.FailureThreshold != nil {
		cfg.Health.FailureThreshold = *fc.Health.FailureThreshold
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"backend.request_timeout", fc.Backend.RequestTimeout, &cfg.Backend.RequestTimeout},
		{"backend.upload_timeout", fc.Backend.UploadTimeout, &cfg.Backend.UploadTimeout},
		{"health.interval", fc.Health.Interval, &cfg.Health.Interval},
		{"health.retry_initial", fc.Health.RetryInitial, &cfg.Health.RetryInitial},
		{"health.retry_max", fc.Health.RetryMax, &cfg.Health.RetryMax},
		{"pipeline.token_delay", fc.Pipeline.TokenDelay, &cfg.Pipeline.TokenDelay},
		{"pipeline.statistics_delay", fc.Pipeline.StatisticsDelay, &cfg.Pipeline.StatisticsDelay},
		{"mock_server.read_timeout", fc.MockServer.ReadTimeout, &cfg.MockServer.ReadTimeout},
		{"mock_server.write_timeout", fc.MockServer.WriteTimeout, &cfg.MockServer.WriteTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
