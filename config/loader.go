package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/watchpost/errors"
)

// Defaults.
const (
	DefaultSupervisorPoll    = 2 * time.Second
	DefaultShutdownGrace     = 5 * time.Second
	DefaultFailureThreshold  = 10
	DefaultEventCapacity     = 1000
	DefaultControllerPoll    = 3 * time.Second
	DefaultMessageLimit      = 100
	DefaultDispatchWorkers   = 4
	DefaultDispatchQueueSize = 16
	DefaultMetricsPort       = 9090
)

// Default returns a configuration with every tunable at its default and no
// pipelines.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    "/metrics",
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Supervisor: SupervisorConfig{
			PollingInterval:  Duration(DefaultSupervisorPoll),
			ShutdownGrace:    Duration(DefaultShutdownGrace),
			FailureThreshold: DefaultFailureThreshold,
			EventCapacity:    DefaultEventCapacity,
		},
		Controller: ControllerConfig{
			Query:           "false",
			PollingInterval: Duration(DefaultControllerPoll),
			MessageLimit:    DefaultMessageLimit,
			Workers:         DefaultDispatchWorkers,
			QueueSize:       DefaultDispatchQueueSize,
		},
	}
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "WATCHPOST",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables semantic validation after loading
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults and every layer, checks the result against the
// schema, applies environment overrides and, when enabled, validates.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.Configuration("Loader", "Load", "defaults: %v", err)
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Configuration("Loader", "Load", "load %s: %v", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	if err := validateSchema(merged); err != nil {
		return nil, err
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.Configuration("Loader", "Load", "decode: %v", err)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse decodes a single JSON or YAML document over the defaults without
// touching the filesystem or the environment.
func Parse(data []byte, format string) (*Config, error) {
	raw, err := decodeDocument(data, format)
	if err != nil {
		return nil, errors.Configuration("Config", "Parse", "%v", err)
	}
	base, err := toMap(Default())
	if err != nil {
		return nil, errors.Configuration("Config", "Parse", "defaults: %v", err)
	}
	merged := deepMergeMaps(base, raw)
	if err := validateSchema(merged); err != nil {
		return nil, err
	}
	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.Configuration("Config", "Parse", "decode: %v", err)
	}
	return cfg, nil
}

// loadRaw reads one layer as a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data, formatOf(path))
}

func decodeDocument(data []byte, format string) (map[string]any, error) {
	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		if err := validateValueDepth(raw, 0); err != nil {
			return nil, err
		}
		// Round-trip through JSON so numbers and nested maps match what the
		// JSON path produces.
		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("YAML document is not representable as JSON: %w", err)
		}
		raw = nil
		if err := json.Unmarshal(normalized, &raw); err != nil {
			return nil, err
		}
	case formatJSON:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Arrays are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies WATCHPOST_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(suffix string) (string, error) {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", errors.Configuration("Loader", "applyEnvOverrides", "%v", err)
		}
		return val, nil
	}

	overrides := []struct {
		suffix string
		apply  func(string) error
	}{
		{"LOG_LEVEL", func(v string) error { cfg.Log.Level = v; return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Log.Format = v; return nil }},
		{"METRICS_PORT", func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil || port < 0 || port > 65535 {
				return errors.Configuration("Loader", "applyEnvOverrides", "invalid metrics port %q", v)
			}
			cfg.Metrics.Port = port
			return nil
		}},
		{"NATS_URLS", func(v string) error {
			var urls []string
			for _, u := range strings.Split(v, ",") {
				if u = strings.TrimSpace(u); u != "" {
					urls = append(urls, u)
				}
			}
			cfg.NATS.URLs = urls
			return nil
		}},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"CONTROLLER_QUERY", func(v string) error { cfg.Controller.Query = v; return nil }},
	}

	for _, o := range overrides {
		val, err := get(o.suffix)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		if err := o.apply(val); err != nil {
			return err
		}
	}
	return nil
}
