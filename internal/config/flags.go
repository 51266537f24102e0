package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers the shared configuration flags as persistent flags
// of cmd so every subcommand accepts them.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.PersistentFlags())
}

// configureFlags sets up all configuration flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tank API flags
	flags.String("api", DefaultAPI, "Base URL of the tank API")
	flags.StringSlice("stages", nil, "Ordered stage names (defaults to the standard tank pipeline)")
	flags.Duration("poll-interval", DefaultPollInterval, "Interval between status polls")
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout")
	flags.Int("retries", DefaultRetries, "Retries for idempotent API calls")
	flags.Int("api-rate", 0, "Maximum API calls per second (0 means unlimited)")

	// Session flags
	flags.StringP("load-config", "l", "", "Path to the load-test configuration submitted to the tank")
	flags.String("test-id", "", "Test id sent with start requests ('auto' generates one)")
	flags.StringP("breakpoint", "b", "", "Stage to pause before (empty runs to completion)")
	flags.StringP("session", "s", "", "Existing session id to track")
	flags.StringSlice("tank", nil, "Tank API base URL for multi-tank shoots (repeatable)")

	// Output flags
	flags.StringP("output", "o", string(OutputText), "Output format: 'text', 'json', or 'yaml'")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.Bool("log-errors", false, "Log each failed API call to stderr")
	flags.String("artifact-dir", "", "Directory artifacts are downloaded into")
	flags.String("artifact-pattern", DefaultArtifactGlob, "Glob selecting artifacts to download")
	flags.Bool("watch-config", false, "Reload the load configuration when the file changes")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported in spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of traces to sample (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", false, "Send W3C trace headers to the tank API")
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"api", &cfg.API},
		{"load-config", &cfg.LoadConfig},
		{"test-id", &cfg.TestID},
		{"breakpoint", &cfg.Breakpoint},
		{"session", &cfg.Session},
		{"artifact-dir", &cfg.ArtifactDir},
		{"artifact-pattern", &cfg.ArtifactPattern},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range stringFlags {
		if !changed(fs, f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	if changed(fs, "output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(val)
	}
	if changed(fs, "tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}

	if changed(fs, "stages") {
		val, err := fs.GetStringSlice("stages")
		if err != nil {
			return err
		}
		cfg.Stages = val
	}
	if changed(fs, "tank") {
		val, err := fs.GetStringSlice("tank")
		if err != nil {
			return err
		}
		cfg.Tanks = val
	}

	if changed(fs, "poll-interval") {
		val, err := fs.GetDuration("poll-interval")
		if err != nil {
			return err
		}
		cfg.PollInterval = val
	}
	if changed(fs, "timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}

	if changed(fs, "retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if changed(fs, "api-rate") {
		val, err := fs.GetInt("api-rate")
		if err != nil {
			return err
		}
		cfg.APIRate = val
	}

	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"dashboard", &cfg.Dashboard},
		{"log-errors", &cfg.LogErrors},
		{"watch-config", &cfg.WatchConfig},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, f := range boolFlags {
		if !changed(fs, f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if changed(fs, "tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	if changed(fs, "tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	return nil
}

// changed reports whether name is defined on fs and was set explicitly.
func changed(fs *pflag.FlagSet, name string) bool {
	return fs.Lookup(name) != nil && fs.Changed(name)
}
