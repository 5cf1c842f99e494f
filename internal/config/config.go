// Package config holds the evaluation settings shared by every kmeval
// command. Settings come from an optional YAML file; command-line flags
// override file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Log formats accepted by LogFormat.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the evaluation configuration.
type Config struct {
	// Tolerance is the largest declared-vs-derived duration difference, in
	// seconds, that is not reported as a reconciliation warning.
	Tolerance float64 `yaml:"tolerance" validate:"gte=0"`

	// SignificanceLevel is alpha for both one-sided tests.
	SignificanceLevel float64 `yaml:"significance_level" validate:"gt=0,lt=1"`

	// Workers bounds concurrent event-log validation and task evaluation.
	Workers int `yaml:"workers" validate:"gte=1,lte=1024"`

	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	// MetricsFile, when set, receives run counters in Prometheus text format.
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

var validate = validator.New()

// Default returns tolerance 0, alpha 0.05, one worker per CPU and text logs.
func Default() *Config {
	return &Config{
		Tolerance:         0,
		SignificanceLevel: 0.05,
		Workers:           runtime.GOMAXPROCS(0),
		LogFormat:         LogFormatText,
	}
}

// Load reads a YAML config file over the defaults. Fields absent from the
// file keep their default values. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint and reports all violations at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// describe renders a field error using the YAML field name.
func describe(fe validator.FieldError) string {
	name := yamlNames[fe.StructField()]
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", name, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", name, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", name, fe.Param(), fe.Value())
	case "lt":
		return fmt.Sprintf("%s must be less than %s, got %v", name, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q", name, fe.Tag())
	}
}

var yamlNames = map[string]string{
	"Tolerance":         "tolerance",
	"SignificanceLevel": "significance_level",
	"Workers":           "workers",
	"LogFormat":         "log_format",
	"MetricsFile":       "metrics_file",
}
