package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/errors"
)

const sampleJSON = `{
  "log": {"level": "debug"},
  "supervisor": {"polling_interval": "1s", "shutdown_grace": 3},
  "pipelines": [
    {
      "name": "front_door",
      "zone": "house",
      "source": {"name": "cam0", "type": "testpattern", "params": {"mode": "square"}},
      "stages": [
        {"name": "motion", "type": "motion"},
        {"name": "alert", "type": "alerter", "params": {"domain": "visual"}}
      ]
    },
    {
      "name": "hallway",
      "source": {"name": "cam0", "type": "testpattern", "params": {"mode": "square"}},
      "stages": [{"name": "alert", "type": "alerter", "params": {"domain": "visual"}}]
    }
  ],
  "controller": {
    "query": "@FRONT_DOOR@ and @HALLWAY@",
    "polling_interval": "500ms",
    "zones": {"house": true},
    "action": {"name": "log", "type": "log"}
  }
}`

const sampleYAML = `
log:
  level: warn
  format: text
pipelines:
  - name: garage
    skip_stale: true
    source:
      name: sensor
      type: udp
      rate: 5
      params:
        address: 127.0.0.1:0
    stages:
      - name: match
        type: jsonmatch
        params:
          logic: and
          conditions:
            - field: temp
              operator: gt
              value: 40
      - name: alert
        type: alerter
controller:
  query: "@GARAGE@"
  message_limit: 10
  action:
    name: hook
    type: httppost
    params:
      url: http://localhost:8080/alerts
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_LoadJSON(t *testing.T) {
	loader := NewLoader()
	loader.EnableValidation(true)

	cfg, err := loader.LoadFile(writeFile(t, "watchpost.json", sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "default kept")
	assert.Equal(t, time.Second, cfg.Supervisor.PollingInterval.Std())
	assert.Equal(t, 3*time.Second, cfg.Supervisor.ShutdownGrace.Std())
	assert.Equal(t, DefaultFailureThreshold, cfg.Supervisor.FailureThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.PollingInterval.Std())
	assert.Equal(t, DefaultMessageLimit, cfg.Controller.MessageLimit)

	require.Len(t, cfg.Pipelines, 2)
	p := cfg.Pipelines[0]
	assert.Equal(t, "front_door", p.Name)
	assert.Equal(t, "house", p.Zone)
	assert.Equal(t, "cam0", p.Source.Name)
	assert.Equal(t, "testpattern", p.Source.Type)
	assert.JSONEq(t, `{"mode":"square"}`, string(p.Source.Params))
	require.Len(t, p.Stages, 2)
	assert.Equal(t, "motion", p.Stages[0].Type)

	require.NotNil(t, cfg.Controller.Action)
	assert.Equal(t, "log", cfg.Controller.Action.Type)
	assert.Len(t, cfg.Sources(), 1, "shared source appears once")
	assert.Equal(t, map[string]string{"front_door": "house"}, cfg.ZoneMembership())
}

func TestLoader_LoadYAML(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeFile(t, "watchpost.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	require.Len(t, cfg.Pipelines, 1)
	p := cfg.Pipelines[0]
	assert.True(t, p.SkipStale)
	assert.Equal(t, 5.0, p.Source.Rate)
	assert.JSONEq(t, `{"address":"127.0.0.1:0"}`, string(p.Source.Params))
	assert.JSONEq(t, `{"logic":"and","conditions":[{"field":"temp","operator":"gt","value":40}]}`,
		string(p.Stages[0].Params))
	assert.Equal(t, 10, cfg.Controller.MessageLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", sampleJSON)
	override := writeFile(t, "override.yaml", `
controller:
  query: "@HALLWAY@"
  message_limit: 5
supervisor:
  shutdown_grace: 10s
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "@HALLWAY@", cfg.Controller.Query)
	assert.Equal(t, 5, cfg.Controller.MessageLimit)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.ShutdownGrace.Std())
	assert.Equal(t, time.Second, cfg.Supervisor.PollingInterval.Std(), "base value survives")
	assert.Equal(t, "log", cfg.Controller.Action.Type, "nested map merged, not replaced")
	assert.Len(t, cfg.Pipelines, 2)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("WATCHPOST_LOG_LEVEL", "error")
	t.Setenv("WATCHPOST_NATS_URLS", "nats://a:4222, nats://b:4222")
	t.Setenv("WATCHPOST_METRICS_PORT", "9191")
	t.Setenv("WATCHPOST_CONTROLLER_QUERY", "@HALLWAY@")

	cfg, err := NewLoader().LoadFile(writeFile(t, "watchpost.json", sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "@HALLWAY@", cfg.Controller.Query)

	t.Setenv("WATCHPOST_METRICS_PORT", "not-a-port")
	_, err = NewLoader().LoadFile(writeFile(t, "watchpost.json", sampleJSON))
	assert.True(t, errors.IsConfiguration(err))
}

func TestLoader_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad duration", `{"supervisor": {"polling_interval": "soon"}}`},
		{"negative limit", `{"controller": {"message_limit": -1}}`},
		{"pipeline without source", `{"pipelines": [{"name": "x"}]}`},
		{"stage without type", `{"pipelines": [{"name": "x", "source": {"name": "s", "type": "udp"}, "stages": [{"name": "a"}]}]}`},
		{"bad log format", `{"log": {"format": "xml"}}`},
		{"zone not boolean", `{"controller": {"zones": {"house": "on"}}}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeFile(t, "c.json", test.doc))
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestLoader_FileErrors(t *testing.T) {
	_, err := NewLoader().LoadFile(writeFile(t, "c.toml", "x = 1"))
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewLoader().LoadFile(writeFile(t, "c.json", `{"log": `))
	assert.True(t, errors.IsConfiguration(err))
}

func validConfig() *Config {
	cfg := Default()
	cfg.Pipelines = []PipelineConfig{
		{
			Name:   "door",
			Source: SourceConfig{PluginConfig: PluginConfig{Name: "cam", Type: "testpattern"}},
			Stages: []PluginConfig{{Name: "alert", Type: "alerter"}},
		},
	}
	cfg.Controller.Action = &PluginConfig{Name: "log", Type: "log"}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no controller action", func(c *Config) { c.Controller.Action = nil }, errors.ErrConfiguration},
		{"no pipelines", func(c *Config) { c.Pipelines = nil }, errors.ErrConfiguration},
		{"unnamed pipeline", func(c *Config) { c.Pipelines[0].Name = "" }, errors.ErrConfiguration},
		{"bad pipeline name", func(c *Config) { c.Pipelines[0].Name = "front door" }, errors.ErrConfiguration},
		{"placeholder collision", func(c *Config) {
			dup := c.Pipelines[0]
			dup.Name = "DOOR"
			c.Pipelines = append(c.Pipelines, dup)
		}, errors.ErrConfiguration},
		{"source without type", func(c *Config) { c.Pipelines[0].Source.Type = "" }, errors.ErrConfiguration},
		{"undeclared zone", func(c *Config) { c.Pipelines[0].Zone = "garden" }, errors.ErrConfiguration},
		{"source conflict", func(c *Config) {
			other := c.Pipelines[0]
			other.Name = "window"
			other.Source.Params = json.RawMessage(`{"mode":"noise"}`)
			c.Pipelines = append(c.Pipelines, other)
		}, errors.ErrSourceConflict},
		{"negative grace", func(c *Config) { c.Supervisor.ShutdownGrace = -1 }, errors.ErrConfiguration},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, test.want)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestConfig_SharedSourceSameDescriptor(t *testing.T) {
	cfg := validConfig()
	cfg.Pipelines[0].Source.Params = json.RawMessage(`{"mode": "square", "width": 32}`)
	other := cfg.Pipelines[0]
	other.Name = "window"
	other.Source.Params = json.RawMessage(`{"width":32,"mode":"square"}`)
	cfg.Pipelines = append(cfg.Pipelines, other)

	assert.NoError(t, cfg.Validate(), "key order and whitespace do not matter")
}

func TestConfig_EmptyStagesLeftToEngine(t *testing.T) {
	cfg := validConfig()
	cfg.Pipelines[0].Stages = nil
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveToFileRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Controller.Zones = map[string]bool{"house": false}
	cfg.Pipelines[0].Zone = "house"

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pipelines, loaded.Pipelines)
	assert.Equal(t, cfg.Controller, loaded.Controller)
	assert.Equal(t, cfg.Supervisor, loaded.Supervisor)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "abc"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, `"abc"`)
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original untouched")
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Controller.Query = "mutated"
	assert.NotEqual(t, "mutated", sc.Get().Controller.Query, "Get returns a copy")

	bad := validConfig()
	bad.Pipelines = nil
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	next := validConfig()
	next.Controller.Query = "@DOOR@"
	require.NoError(t, sc.Update(next))
	assert.Equal(t, "@DOOR@", sc.Get().Controller.Query)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	assert.Equal(t, "garage", cfg.Pipelines[0].Name)

	_, err = Parse([]byte(`{}`), "toml")
	assert.True(t, errors.IsConfiguration(err))
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"2s"`, 2 * time.Second},
		{`"1m30s"`, 90 * time.Second},
		{`"2d"`, 48 * time.Hour},
		{`3`, 3 * time.Second},
		{`0.5`, 500 * time.Millisecond},
		{`null`, 0},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			var d Duration
			require.NoError(t, json.Unmarshal([]byte(test.in), &d))
			assert.Equal(t, test.want, d.Std())
		})
	}

	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))
}
