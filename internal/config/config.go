package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/tankpilot/internal/stage"
)

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

const (
	DefaultAPI          = "http://localhost:8888"
	DefaultPollInterval = time.Second
	DefaultTimeout      = 30 * time.Second
	DefaultRetries      = 2
	DefaultArtifactGlob = "phout_*.log"
)

type Config struct {
	API             string        `mapstructure:"api"`
	Stages          []string      `mapstructure:"stages"`
	LoadConfig      string        `mapstructure:"load_config"`
	TestID          string        `mapstructure:"test_id"`
	Breakpoint      string        `mapstructure:"breakpoint"`
	Session         string        `mapstructure:"session"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Retries         int           `mapstructure:"retries"`
	APIRate         int           `mapstructure:"api_rate"`
	Output          OutputFormat  `mapstructure:"output"`
	Dashboard       bool          `mapstructure:"dashboard"`
	LogErrors       bool          `mapstructure:"log_errors"`
	ArtifactDir     string        `mapstructure:"artifact_dir"`
	ArtifactPattern string        `mapstructure:"artifact_pattern"`
	Tanks           []string      `mapstructure:"tanks"`
	WatchConfig     bool          `mapstructure:"watch_config"`
	ConfigFile      string        `mapstructure:"-"`
	Tracing         TracingConfig `mapstructure:"tracing"`
}

// TracingConfig controls OTLP export of tank API spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // nil follows Enabled
}

// Enabled reports whether an OTLP endpoint is configured, either directly
// or through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	if strings.TrimSpace(t.Endpoint) != "" {
		return true
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace headers are sent to the tank.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns the configuration used when neither a file nor flags set
// a value.
func Default() *Config {
	return &Config{
		API:             DefaultAPI,
		Stages:          append([]string(nil), stage.DefaultStages...),
		PollInterval:    DefaultPollInterval,
		Timeout:         DefaultTimeout,
		Retries:         DefaultRetries,
		Output:          OutputText,
		ArtifactPattern: DefaultArtifactGlob,
		Tracing:         TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Registry builds the stage registry described by Stages.
func (c Config) Registry() (*stage.Registry, error) {
	if len(c.Stages) == 0 {
		return stage.Default(), nil
	}
	return stage.NewRegistry(c.Stages)
}

// ReadLoadConfig returns the load-test configuration submitted to the tank.
func (c Config) ReadLoadConfig() ([]byte, error) {
	path := strings.TrimSpace(c.LoadConfig)
	if path == "" {
		return nil, fmt.Errorf("load_config is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read load config: %w", err)
	}
	return data, nil
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.API) == "" {
		issues = append(issues, "api is required (use --help for usage information)")
	}
	if c.PollInterval <= 0 {
		issues = append(issues, "poll_interval must be > 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.APIRate < 0 {
		issues = append(issues, "api_rate must be >= 0")
	}

	switch c.Output {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output must be 'text', 'json', or 'yaml', got %q", c.Output))
	}
	if c.Dashboard && c.Output != "" && c.Output != OutputText {
		issues = append(issues, "dashboard and structured output are mutually exclusive")
	}

	issues = append(issues, validateStages(c.Stages, c.Breakpoint)...)

	for idx, tank := range c.Tanks {
		if strings.TrimSpace(tank) == "" {
			issues = append(issues, fmt.Sprintf("tanks[%d]: address is required", idx))
		}
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateStages(stages []string, breakpoint string) []string {
	reg := stage.Default()
	if len(stages) > 0 {
		var err error
		reg, err = stage.NewRegistry(stages)
		if err != nil {
			return []string{fmt.Sprintf("stages: %v", err)}
		}
	}
	if strings.TrimSpace(breakpoint) == "" {
		return nil
	}
	if err := reg.Validate(breakpoint); err != nil {
		return []string{fmt.Sprintf("breakpoint: %v", err)}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
