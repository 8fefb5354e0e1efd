// Package config loads trackq settings from a YAML (or JSON) file, applies
// TRACKQ_* environment overrides and validates the result against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// FlushMode selects what triggers a flush cycle.
type FlushMode string

const (
	FlushManual    FlushMode = "manual"    // only explicit FlushData calls
	FlushImmediate FlushMode = "immediate" // after every tracked event
	FlushPeriodic  FlushMode = "periodic"  // every FlushInterval
	FlushAppClose  FlushMode = "app_close" // when the host app goes to background
)

// Config is the full trackq configuration.
type Config struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	ProjectID      string        `yaml:"project_id" json:"project_id"`
	Authorization  string        `yaml:"authorization" json:"authorization"`
	MaxTries       int           `yaml:"max_tries" json:"max_tries"`
	FlushMode      FlushMode     `yaml:"flush_mode" json:"flush_mode"`
	FlushInterval  time.Duration `yaml:"flush_interval" json:"flush_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	DatabasePath   string        `yaml:"database_path" json:"database_path"`
	Connectivity   Connectivity  `yaml:"connectivity" json:"connectivity"`
	DeadLetter     DeadLetter    `yaml:"dead_letter" json:"dead_letter"`
	Log            Log           `yaml:"log" json:"log"`
	Metrics        Metrics       `yaml:"metrics" json:"metrics"`
	Tracing        Tracing       `yaml:"tracing" json:"tracing"`
}

// Connectivity configures the reachability monitor. An empty Address
// disables it and the pipeline assumes it is online.
type Connectivity struct {
	Address  string        `yaml:"address" json:"address"` // host:port
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// DeadLetter configures the NSQ sink for dropped events.
type DeadLetter struct {
	NSQDAddress string `yaml:"nsqd_address" json:"nsqd_address"` // e.g. nsqd:4150
	Topic       string `yaml:"topic" json:"topic"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Metrics configures the Prometheus listener used by serve.
type Metrics struct {
	Address string `yaml:"address" json:"address"` // e.g. :9090
}

// Tracing configures the OTLP/HTTP exporter.
type Tracing struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:        "https://api.exponea.com",
		MaxTries:       10,
		FlushMode:      FlushImmediate,
		FlushInterval:  60 * time.Second,
		RequestTimeout: 10 * time.Second,
		DatabasePath:   "trackq.db",
		Connectivity: Connectivity{
			Interval: 30 * time.Second,
			Timeout:  3 * time.Second,
		},
		DeadLetter: DeadLetter{Topic: "trackq.dropped"},
		Log:        Log{Level: "info", Format: "text"},
		Tracing:    Tracing{ServiceName: "trackq"},
	}
}

// Load reads path (optional), applies environment overrides and validates.
// An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode merges a YAML or JSON document into cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from TRACKQ_* variables. Unset or empty variables
// leave the current value alone.
func ApplyEnv(cfg *Config) error {
	cfg.BaseURL = getenv("TRACKQ_BASE_URL", cfg.BaseURL)
	cfg.ProjectID = getenv("TRACKQ_PROJECT_ID", cfg.ProjectID)
	cfg.Authorization = getenv("TRACKQ_AUTHORIZATION", cfg.Authorization)
	cfg.FlushMode = FlushMode(getenv("TRACKQ_FLUSH_MODE", string(cfg.FlushMode)))
	cfg.DatabasePath = getenv("TRACKQ_DATABASE_PATH", cfg.DatabasePath)
	cfg.Connectivity.Address = getenv("TRACKQ_CONNECTIVITY_ADDRESS", cfg.Connectivity.Address)
	cfg.DeadLetter.NSQDAddress = getenv("TRACKQ_DLQ_NSQD_ADDRESS", cfg.DeadLetter.NSQDAddress)
	cfg.DeadLetter.Topic = getenv("TRACKQ_DLQ_TOPIC", cfg.DeadLetter.Topic)
	cfg.Log.Level = getenv("TRACKQ_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenv("TRACKQ_LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.Address = getenv("TRACKQ_METRICS_ADDRESS", cfg.Metrics.Address)
	cfg.Tracing.Endpoint = getenv("TRACKQ_OTLP_ENDPOINT", cfg.Tracing.Endpoint)

	var errs []error
	var err error
	if cfg.MaxTries, err = getenvInt("TRACKQ_MAX_TRIES", cfg.MaxTries); err != nil {
		errs = append(errs, err)
	}
	if cfg.FlushInterval, err = getenvDuration("TRACKQ_FLUSH_INTERVAL", cfg.FlushInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.RequestTimeout, err = getenvDuration("TRACKQ_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// FieldError is one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Problems []FieldError `json:"problems"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks cfg against the embedded CUE schema. Returns a
// *ValidationError listing every problem.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := ctx.Encode(cfg)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) *ValidationError {
	verr := &ValidationError{}
	seen := map[string]bool{}
	for _, e := range cueerrors.Errors(err) {
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		field := strings.Join(path, ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if seen[field+msg] {
			continue
		}
		seen[field+msg] = true
		verr.Problems = append(verr.Problems, FieldError{Field: field, Message: msg})
	}
	return verr
}
