package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/c360/watchpost/errors"
)

// Config is the complete watchpost configuration document.
type Config struct {
	Log        LogConfig        `json:"log"`
	Metrics    MetricsConfig    `json:"metrics"`
	NATS       NATSConfig       `json:"nats"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Pipelines  []PipelineConfig `json:"pipelines"`
	Controller ControllerConfig `json:"controller"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig controls the metrics, health and status endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// NATSConfig defines the optional broker connection used by nats sources
// and actions.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// SupervisorConfig holds the coordinator tunables.
type SupervisorConfig struct {
	PollingInterval  Duration `json:"polling_interval"`
	ShutdownGrace    Duration `json:"shutdown_grace"`
	FailureThreshold int      `json:"failure_threshold"`
	EventCapacity    int      `json:"event_capacity"`
}

// PluginConfig names a registered plugin type and its parameters.
type PluginConfig struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SourceConfig is a source descriptor. Pipelines sharing a source repeat
// the same descriptor.
type SourceConfig struct {
	PluginConfig
	// Rate caps acquisitions per second. Zero means unpaced.
	Rate  float64 `json:"rate,omitempty"`
	Burst int     `json:"burst,omitempty"`
}

// PipelineConfig declares one pipeline.
type PipelineConfig struct {
	Name      string         `json:"name"`
	Source    SourceConfig   `json:"source"`
	Stages    []PluginConfig `json:"stages"`
	Zone      string         `json:"zone,omitempty"`
	SkipStale bool           `json:"skip_stale,omitempty"`
}

// ControllerConfig declares the controller and its action.
type ControllerConfig struct {
	Query           string          `json:"query"`
	PollingInterval Duration        `json:"polling_interval"`
	MessageLimit    int             `json:"message_limit"`
	Workers         int             `json:"workers"`
	QueueSize       int             `json:"queue_size"`
	Throttle        float64         `json:"throttle,omitempty"`
	ThrottleBurst   int             `json:"throttle_burst,omitempty"`
	Zones           map[string]bool `json:"zones,omitempty"`
	Action          *PluginConfig   `json:"action,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.Configuration("SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate performs the semantic checks the schema cannot express. Pipeline
// level problems that only disable one pipeline (an empty stage list, a
// domain mismatch) are left to the engine.
func (c *Config) Validate() error {
	if c.Controller.Action == nil || c.Controller.Action.Type == "" {
		return errors.Configuration("Config", "Validate", "controller.action is required")
	}
	if len(c.Pipelines) == 0 {
		return errors.Configuration("Config", "Validate", "at least one pipeline is required")
	}
	if c.Supervisor.PollingInterval < 0 || c.Supervisor.ShutdownGrace < 0 || c.Controller.PollingInterval < 0 {
		return errors.Configuration("Config", "Validate", "durations must not be negative")
	}

	placeholders := make(map[string]string)
	for i, p := range c.Pipelines {
		if p.Name == "" {
			return errors.Configuration("Config", "Validate", "pipelines[%d].name is required", i)
		}
		if !isValidName(p.Name) {
			return errors.Configuration("Config", "Validate",
				"pipeline name %q must contain only letters, digits, '-' and '_'", p.Name)
		}
		key := strings.ToUpper(p.Name)
		if prev, ok := placeholders[key]; ok {
			return errors.Configuration("Config", "Validate",
				"pipeline names %q and %q share the placeholder @%s@", prev, p.Name, key)
		}
		placeholders[key] = p.Name

		if p.Source.Name == "" || p.Source.Type == "" {
			return errors.Configuration("Config", "Validate", "pipeline %q: source name and type are required", p.Name)
		}
		for j, st := range p.Stages {
			if st.Type == "" {
				return errors.Configuration("Config", "Validate", "pipeline %q: stages[%d].type is required", p.Name, j)
			}
		}
		if p.Zone != "" && !hasZone(c.Controller.Zones, p.Zone) {
			return errors.Configuration("Config", "Validate",
				"pipeline %q: zone %q is not declared in controller.zones", p.Name, p.Zone)
		}
	}

	if err := c.checkSourceConflicts(); err != nil {
		return err
	}
	return nil
}

// checkSourceConflicts rejects two pipelines naming the same source with
// different descriptors.
func (c *Config) checkSourceConflicts() error {
	seen := make(map[string]SourceConfig)
	for _, p := range c.Pipelines {
		prev, ok := seen[p.Source.Name]
		if !ok {
			seen[p.Source.Name] = p.Source
			continue
		}
		if !sameSource(prev, p.Source) {
			return errors.WrapFatal(
				fmt.Errorf("%w: %w: source %q is declared with different settings",
					errors.ErrConfiguration, errors.ErrSourceConflict, p.Source.Name),
				"Config", "Validate", "configuration")
		}
	}
	return nil
}

func sameSource(a, b SourceConfig) bool {
	return a.Type == b.Type && a.Rate == b.Rate && a.Burst == b.Burst &&
		equalJSON(a.Params, b.Params)
}

// equalJSON compares two documents ignoring whitespace and key order.
func equalJSON(a, b json.RawMessage) bool {
	if isEmptyJSON(a) && isEmptyJSON(b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return bytes.Equal(a, b)
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "{}"
}

func hasZone(zones map[string]bool, name string) bool {
	for z := range zones {
		if strings.EqualFold(z, name) {
			return true
		}
	}
	return false
}

// isValidName checks that a pipeline name can appear in a placeholder.
func isValidName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return s != ""
}

// Sources returns the distinct source descriptors in first-use order.
func (c *Config) Sources() []SourceConfig {
	seen := make(map[string]bool)
	var out []SourceConfig
	for _, p := range c.Pipelines {
		if seen[p.Source.Name] {
			continue
		}
		seen[p.Source.Name] = true
		out = append(out, p.Source)
	}
	return out
}

// ZoneMembership maps pipeline names to their zones.
func (c *Config) ZoneMembership() map[string]string {
	out := make(map[string]string)
	for _, p := range c.Pipelines {
		if p.Zone != "" {
			out[p.Name] = p.Zone
		}
	}
	return out
}

// PipelineNames returns the configured pipeline names, sorted.
func (c *Config) PipelineNames() []string {
	names := make([]string, 0, len(c.Pipelines))
	for _, p := range c.Pipelines {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "marshal")
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "***"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}
