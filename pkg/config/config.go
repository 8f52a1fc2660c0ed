package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "CLASSROOM_"

type Config struct {
	Backend     BackendConfig
	Health      HealthConfig
	Pipeline    PipelineConfig
	MockServer  MockConfig
	StoragePath string
	LogLevel    string
	LogFormat   string
}

type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

type HealthConfig struct {
	Interval         time.Duration
	RetryInitial     time.Duration
	RetryMax         time.Duration
	FailureThreshold uint
}

type PipelineConfig struct {
	TokenDelay      time.Duration
	StatisticsDelay time.Duration
	VideoBaseDir    string
}

type MockConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:8000",
			RequestTimeout: 30 * time.Second,
			UploadTimeout:  5 * time.Minute,
		},
		Health: HealthConfig{
			Interval:         10 * time.Second,
			RetryInitial:     1 * time.Second,
			RetryMax:         5 * time.Second,
			FailureThreshold: 2,
		},
		Pipeline: PipelineConfig{
			TokenDelay:      120 * time.Millisecond,
			StatisticsDelay: 10 * time.Second,
			VideoBaseDir:    "./videos",
		},
		MockServer: MockConfig{
			Address:      ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		StoragePath: "./data",
		LogLevel:    "info",
		LogFormat:   "auto",
	}
}

// Load builds the configuration from defaults, an optional TOML file, a
// .env file in the working directory and CLASSROOM_* variables, in that
// order of precedence (last wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config file %s not found", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"BACKEND_URL":    &c.Backend.BaseURL,
		"STORAGE_PATH":   &c.StoragePath,
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FORMAT":     &c.LogFormat,
		"VIDEO_BASE_DIR": &c.Pipeline.VideoBaseDir,
		"MOCK_ADDRESS":   &c.MockServer.Address,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT":  &c.Backend.RequestTimeout,
		"UPLOAD_TIMEOUT":   &c.Backend.UploadTimeout,
		"HEALTH_INTERVAL":  &c.Health.Interval,
		"RETRY_INITIAL":    &c.Health.RetryInitial,
		"RETRY_MAX":        &c.Health.RetryMax,
		"TOKEN_DELAY":      &c.Pipeline.TokenDelay,
		"STATISTICS_DELAY": &c.Pipeline.StatisticsDelay,
	}
	for key, dst := range durations {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup(envPrefix + "FAILURE_THRESHOLD"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%sFAILURE_THRESHOLD: %w", envPrefix, err)
		}
		c.Health.FailureThreshold = uint(n)
	}
	return nil
}

func (c *Config) normalize() {
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL != "" && !strings.Contains(c.Backend.BaseURL, "://") {
		c.Backend.BaseURL = "http://" + c.Backend.BaseURL
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	if c.Health.RetryInitial <= 0 || c.Health.RetryMax < c.Health.RetryInitial {
		errs = append(errs, errors.New("health.retry_initial must be positive and not exceed health.retry_max"))
	}
	if c.Health.FailureThreshold < 2 {
		errs = append(errs, fmt.Errorf("health.failure_threshold must be at least 2, got %d", c.Health.FailureThreshold))
	}
	if c.Pipeline.StatisticsDelay < 0 || c.Pipeline.TokenDelay < 0 {
		errs = append(errs, errors.New("pipeline delays must not be negative"))
	}
	if c.StoragePath == "" {
		errs = append(errs, errors.New("storage_path is required"))
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be auto, console or json", c.LogFormat))
	}
	return errors.Join(errs...)
}
