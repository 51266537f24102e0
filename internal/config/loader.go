package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line flags.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the optional --config file and applies flags that were set
// on fs on top of it.
func (Loader) Load(fs *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := fs.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, fs); err != nil {
		return nil, err
	}

	cfg.API = strings.TrimSpace(cfg.API)
	cfg.LoadConfig = strings.TrimSpace(cfg.LoadConfig)
	cfg.Breakpoint = strings.TrimSpace(cfg.Breakpoint)
	cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(string(cfg.Output))))
	if cfg.Output == "" {
		cfg.Output = OutputText
	}
	cfg.Tanks = trimAll(cfg.Tanks)
	cfg.Stages = trimAll(cfg.Stages)

	return cfg, nil
}

// applyConfigSettings copies the keys found in a config file onto cfg.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	return applyBindings(settings, []binding{
		bind(stringInto(&cfg.API), "api", "api_url", "api-url"),
		bind(stringsInto(&cfg.Stages), "stages"),
		bind(stringInto(&cfg.LoadConfig), "load_config", "loadconfig", "load-config"),
		bind(stringInto(&cfg.TestID), "test_id", "testid", "test-id"),
		bind(stringInto(&cfg.Breakpoint), "breakpoint", "break"),
		bind(stringInto(&cfg.Session), "session"),
		bind(durationInto(&cfg.PollInterval), "poll_interval", "pollinterval", "poll-interval"),
		bind(durationInto(&cfg.Timeout), "timeout"),
		bind(intInto(&cfg.Retries), "retries"),
		bind(intInto(&cfg.APIRate), "api_rate", "apirate", "api-rate"),
		bind(stringInto((*string)(&cfg.Output)), "output"),
		bind(boolInto(&cfg.Dashboard), "dashboard"),
		bind(boolInto(&cfg.LogErrors), "log_errors", "logerrors", "log-errors"),
		bind(stringInto(&cfg.ArtifactDir), "artifact_dir", "artifactdir", "artifact-dir"),
		bind(stringInto(&cfg.ArtifactPattern), "artifact_pattern", "artifactpattern", "artifact-pattern"),
		bind(stringsInto(&cfg.Tanks), "tanks"),
		bind(boolInto(&cfg.WatchConfig), "watch_config", "watchconfig", "watch-config"),
		bind(func(raw interface{}) error {
			tc, err := parseTracingConfig(raw, cfg.Tracing)
			if err == nil {
				cfg.Tracing = tc
			}
			return err
		}, "tracing"),
	})
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	var propagate *bool
	err = applyBindings(settings, []binding{
		bind(stringInto(&tc.Endpoint), "endpoint"),
		bind(stringInto(&tc.Protocol), "protocol"),
		bind(stringInto(&tc.ServiceName), "service_name", "servicename", "service-name"),
		bind(floatInto(&tc.SampleRate), "sample_rate", "samplerate", "sample-rate"),
		bind(boolInto(&tc.Insecure), "insecure"),
		bind(func(raw interface{}) error {
			v, err := asBool(raw)
			propagate = &v
			return err
		}, "propagate"),
	})
	if err != nil {
		return TracingConfig{}, err
	}
	if propagate != nil {
		tc.Propagate = propagate
	}
	tc.Endpoint = strings.TrimSpace(tc.Endpoint)
	tc.Protocol = strings.ToLower(strings.TrimSpace(tc.Protocol))
	return tc, nil
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
