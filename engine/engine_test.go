package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/componentregistry"
	"github.com/c360/watchpost/config"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
	"github.com/c360/watchpost/testutil"
)

// fixture is a registry with the built-in plugins plus test types:
//
//	source "stub"   params {"domain", "interval", "block"}
//	stage  "fixed"  params {"domain", "mode": pass|raise|halt}
//	action "record" shared RecordingAction
type fixture struct {
	registry *component.Registry
	action   *testutil.RecordingAction

	mu      sync.Mutex
	built   map[string]int
	sources map[string]*closableSource
	release chan struct{}
	failOpen bool
}

type closableSource struct {
	testutil.StubSource
	fx     *fixture
	block  bool
	opened atomic.Bool
	closed atomic.Bool
}

func (s *closableSource) Acquire(ctx context.Context) (any, error) {
	if s.block {
		<-s.fx.release
		return nil, context.Canceled
	}
	return s.StubSource.Acquire(ctx)
}

func (s *closableSource) Open(context.Context) error {
	if s.fx.failOpen {
		return fmt.Errorf("device busy")
	}
	s.opened.Store(true)
	return nil
}

func (s *closableSource) Close() error {
	s.closed.Store(true)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		registry: component.NewRegistry(),
		action:   &testutil.RecordingAction{ActionName: "record"},
		built:    make(map[string]int),
		sources:  make(map[string]*closableSource),
		release:  make(chan struct{}),
	}
	t.Cleanup(func() { close(fx.release) })
	require.NoError(t, componentregistry.Register(fx.registry))

	require.NoError(t, fx.registry.RegisterSource("stub", "test source",
		func(name string, params json.RawMessage, _ component.Dependencies) (component.Source, error) {
			var p struct {
				Domain   string `json:"domain"`
				Interval string `json:"interval"`
				Block    bool   `json:"block"`
			}
			if len(params) > 0 {
				if err := json.Unmarshal(params, &p); err != nil {
					return nil, err
				}
			}
			if p.Domain == "" {
				p.Domain = "data"
			}
			interval := 5 * time.Millisecond
			if p.Interval != "" {
				d, err := time.ParseDuration(p.Interval)
				if err != nil {
					return nil, err
				}
				interval = d
			}
			src := &closableSource{
				StubSource: testutil.StubSource{
					SourceName:   name,
					SourceDomain: component.Domain(p.Domain),
					Interval:     interval,
				},
				fx:    fx,
				block: p.Block,
			}
			fx.mu.Lock()
			fx.built[name]++
			fx.sources[name] = src
			fx.mu.Unlock()
			return src, nil
		}))

	require.NoError(t, fx.registry.RegisterStage("fixed", "test stage",
		func(name string, params json.RawMessage, _ component.Dependencies) (component.Stage, error) {
			var p struct {
				Domain string `json:"domain"`
				Mode   string `json:"mode"`
			}
			if len(params) > 0 {
				if err := json.Unmarshal(params, &p); err != nil {
					return nil, err
				}
			}
			if p.Domain == "" {
				p.Domain = "data"
			}
			return &testutil.StubStage{
				StageName:   name,
				StageDomain: component.Domain(p.Domain),
				Fn: func(_ context.Context, payload any) (component.Result, error) {
					switch p.Mode {
					case "raise":
						return component.Raise(payload, fmt.Sprintf("%s:%v", name, payload)), nil
					case "halt":
						return component.Halt(payload), nil
					default:
						return component.Pass(payload), nil
					}
				},
			}, nil
		}))

	require.NoError(t, fx.registry.RegisterAction("record", "test action",
		func(string, json.RawMessage, component.Dependencies) (component.Action, error) {
			return fx.action, nil
		}))
	return fx
}

func (fx *fixture) source(name string) *closableSource {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.sources[name]
}

func testConfig(query string, pipelines ...config.PipelineConfig) *config.Config {
	cfg := config.Default()
	cfg.Supervisor.PollingInterval = config.Duration(20 * time.Millisecond)
	cfg.Supervisor.ShutdownGrace = config.Duration(200 * time.Millisecond)
	cfg.Controller.PollingInterval = config.Duration(20 * time.Millisecond)
	cfg.Controller.Query = query
	cfg.Controller.Action = &config.PluginConfig{Type: "record"}
	cfg.Pipelines = pipelines
	return cfg
}

func stubPipeline(name, sourceName string, stages ...config.PluginConfig) config.PipelineConfig {
	return config.PipelineConfig{
		Name:      name,
		SkipStale: true,
		Source: config.SourceConfig{
			PluginConfig: config.PluginConfig{Name: sourceName, Type: "stub"},
		},
		Stages: stages,
	}
}

func fixed(mode, domain string) config.PluginConfig {
	return config.PluginConfig{
		Name:   mode,
		Type:   "fixed",
		Params: json.RawMessage(fmt.Sprintf(`{"mode":%q,"domain":%q}`, mode, domain)),
	}
}

func startEngine(t *testing.T, eng *Engine) {
	t.Helper()
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop() })
}

func TestNew_RejectsMissingInputs(t *testing.T) {
	fx := newFixture(t)

	_, err := New(nil, fx.registry, component.Dependencies{})
	assert.True(t, errors.IsConfiguration(err))

	_, err = New(testConfig("false", stubPipeline("a", "s", fixed("raise", "data"))), nil, component.Dependencies{})
	assert.True(t, errors.IsConfiguration(err))

	cfg := testConfig("false")
	_, err = New(cfg, fx.registry, component.Dependencies{})
	assert.True(t, errors.IsConfiguration(err), "no pipelines")

	cfg = testConfig("false", stubPipeline("a", "s", fixed("raise", "data")))
	cfg.Controller.Action = nil
	_, err = New(cfg, fx.registry, component.Dependencies{})
	assert.True(t, errors.IsConfiguration(err), "no action")
}

func TestNew_UnknownPluginType(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@A@", stubPipeline("a", "s", config.PluginConfig{Type: "face-detector"}))
	_, err := New(cfg, fx.registry, component.Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestNew_DomainMismatchDisablesOnlyThatPipeline(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@GOOD@ or @BAD@",
		stubPipeline("good", "s", fixed("raise", "data")),
		stubPipeline("bad", "s", fixed("pass", "visual"), fixed("raise", "data")),
	)
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)

	v := eng.Validation()
	assert.Equal(t, "errors", v.Status)
	require.Len(t, v.Errors, 1)
	assert.Equal(t, "bad", v.Errors[0].Pipeline)
	assert.Contains(t, v.Errors[0].Message, "does not match")

	// @BAD@ now names a disabled pipeline.
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, IssuePlaceholder, v.Warnings[0].Type)

	st := eng.Status()
	require.Len(t, st.Pipelines, 1)
	assert.Equal(t, "good", st.Pipelines[0].Name)
}

func TestNew_EmptyStageListDisablesPipeline(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@A@",
		stubPipeline("a", "s", fixed("raise", "data")),
		stubPipeline("empty", "t"),
	)
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)
	require.Len(t, eng.Validation().Errors, 1)
	assert.Contains(t, eng.Validation().Errors[0].Message, errors.ErrNoStages.Error())

	// The source used only by the disabled pipeline gets no worker.
	assert.Equal(t, []string{"s"}, names(eng.Status()))
}

func names(st Status) []string {
	out := make([]string, 0, len(st.Sources))
	for _, s := range st.Sources {
		out = append(out, s.Name)
	}
	return out
}

func TestNew_NoValidPipeline(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@A@", stubPipeline("a", "s", fixed("raise", "visual")))
	_, err := New(cfg, fx.registry, component.Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestNew_MalformedQueryIsAWarning(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@A@ and (", stubPipeline("a", "s", fixed("raise", "data")))
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)

	v := eng.Validation()
	assert.Equal(t, "warnings", v.Status)
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, IssueQuery, v.Warnings[0].Type)
}

func TestNew_BindsAlerterDomain(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@A@", config.PipelineConfig{
		Name: "a",
		Source: config.SourceConfig{PluginConfig: config.PluginConfig{
			Name: "cam", Type: "testpattern",
		}},
		Stages: []config.PluginConfig{{Type: "alerter"}},
	})
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "valid", eng.Validation().Status)
	assert.Equal(t, component.DomainVisual, eng.pipelines[0].Stages[0].Domain())
}

func TestEngine_SharedSourceSharesMailbox(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("false",
		stubPipeline("left", "shared", fixed("pass", "data")),
		stubPipeline("right", "shared", fixed("pass", "data")),
	)
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)

	fx.mu.Lock()
	assert.Equal(t, 1, fx.built["shared"], "one instance per source name")
	fx.mu.Unlock()
	require.Len(t, eng.Status().Sources, 1)

	startEngine(t, eng)

	require.Eventually(t, func() bool {
		st := eng.Status()
		return st.Pipelines[0].LastSeq > 0 && st.Pipelines[1].LastSeq > 0
	}, 2*time.Second, 10*time.Millisecond)

	sample, ok := eng.LatestSample("shared")
	require.True(t, ok)
	assert.Equal(t, "shared", sample.Source)
	assert.Equal(t, eng.pipelines[0].Source, eng.pipelines[1].Source)

	_, ok = eng.LatestSample("missing")
	assert.False(t, ok)
}

func TestEngine_DispatchesWhenQueryHolds(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@A@ and not @B@",
		stubPipeline("a", "s", fixed("pass", "data"), fixed("raise", "data")),
		stubPipeline("b", "s", fixed("halt", "data"), fixed("raise", "data")),
	)
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)
	startEngine(t, eng)

	require.Eventually(t, func() bool { return len(fx.action.Batches()) > 0 }, 2*time.Second, 10*time.Millisecond)

	batch := fx.action.Batches()[0]
	require.NotEmpty(t, batch)
	for _, payload := range batch {
		assert.True(t, strings.HasPrefix(payload.(string), "raise:"), "payload %v", payload)
	}

	st := eng.Status()
	assert.Equal(t, component.StateRunning, st.State)
	assert.Positive(t, st.Controller.Alerts)
	for _, p := range st.Pipelines {
		if p.Name == "b" {
			assert.Zero(t, p.Alerts)
			assert.Positive(t, p.ShortCircuits)
		}
	}
}

func TestEngine_BlankFrameNeverReachesAction(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@ENTRY@", config.PipelineConfig{
		Name:      "entry",
		SkipStale: true,
		Source: config.SourceConfig{PluginConfig: config.PluginConfig{
			Name: "camera", Type: "testpattern",
			Params: json.RawMessage(`{"mode":"blank","interval":"5ms"}`),
		}},
		Stages: []config.PluginConfig{
			{Type: "motion"},
			{Type: "alerter", Params: json.RawMessage(`{"message":"movement at entry"}`)},
		},
	})
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)
	startEngine(t, eng)

	require.Eventually(t, func() bool {
		return eng.Status().Pipelines[0].ShortCircuits > 5
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	st := eng.Status()
	assert.Zero(t, st.Pipelines[0].Alerts)
	assert.Zero(t, st.Controller.Alerts)
	assert.Empty(t, fx.action.Batches())
}

func TestEngine_MovingSquareRaisesAlert(t *testing.T) {
	fx := newFixture(t)

	cfg := testConfig("@ENTRY@", config.PipelineConfig{
		Name:      "entry",
		SkipStale: true,
		Source: config.SourceConfig{PluginConfig: config.PluginConfig{
			Name: "camera", Type: "testpattern",
			Params: json.RawMessage(`{"mode":"square","interval":"5ms"}`),
		}},
		Stages: []config.PluginConfig{
			{Type: "motion", Params: json.RawMessage(`{"min_changed_ratio":0.001}`)},
			{Type: "alerter", Params: json.RawMessage(`{"message":"movement at entry"}`)},
		},
	})
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)
	startEngine(t, eng)

	require.Eventually(t, func() bool { return len(fx.action.Batches()) > 0 }, 2*time.Second, 10*time.Millisecond)

	alert, ok := fx.action.Batches()[0][0].(message.Alert)
	require.True(t, ok)
	assert.Equal(t, "entry", alert.Pipeline)
	assert.Equal(t, "camera", alert.Source)
	assert.Equal(t, "movement at entry", alert.Message)
}

func TestEngine_DisarmedZoneSuppressesAlerts(t *testing.T) {
	fx := newFixture(t)

	p := stubPipeline("garage", "s", fixed("raise", "data"))
	p.Zone = "Garage"
	cfg := testConfig("@GARAGE@", p)
	cfg.Controller.Zones = map[string]bool{"garage": false}

	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)
	startEngine(t, eng)

	require.Eventually(t, func() bool {
		return eng.Status().Controller.Ticks > 3 && eng.Status().Pipelines[0].Alerts > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, fx.action.Batches())
	assert.Equal(t, map[string]bool{"garage": false}, eng.Zones())

	armed, err := eng.ToggleZone("GARAGE")
	require.NoError(t, err)
	assert.True(t, armed)
	require.Eventually(t, func() bool { return len(fx.action.Batches()) > 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.SetZone("garage", false))
	assert.Equal(t, map[string]bool{"garage": false}, eng.Status().Controller.Zones)

	err = eng.SetZone("attic", true)
	assert.ErrorIs(t, err, errors.ErrUnknownZone)
}

func TestEngine_ZonesWithoutDeclaration(t *testing.T) {
	fx := newFixture(t)

	eng, err := New(testConfig("@A@", stubPipeline("a", "s", fixed("raise", "data"))), fx.registry, component.Dependencies{})
	require.NoError(t, err)

	assert.ErrorIs(t, eng.SetZone("garage", true), errors.ErrUnknownZone)
	_, err = eng.ToggleZone("garage")
	assert.ErrorIs(t, err, errors.ErrUnknownZone)
	assert.Nil(t, eng.Zones())
}

func TestEngine_Lifecycle(t *testing.T) {
	fx := newFixture(t)

	eng, err := New(testConfig("false", stubPipeline("a", "s", fixed("pass", "data"))), fx.registry, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, component.StateCreated, eng.State())
	assert.NoError(t, eng.Stop(), "stop before start is a no-op")

	require.NoError(t, eng.Start(context.Background()))
	assert.True(t, fx.source("s").opened.Load())
	assert.Error(t, eng.Start(context.Background()))

	require.NoError(t, eng.Stop())
	assert.Equal(t, component.StateStopped, eng.State())
	assert.True(t, fx.source("s").closed.Load())
	assert.NoError(t, eng.Stop())
	assert.Error(t, eng.Start(context.Background()), "a stopped engine cannot restart")

	for _, src := range eng.Status().Sources {
		assert.False(t, src.Alive)
	}
}

func TestEngine_OpenFailure(t *testing.T) {
	fx := newFixture(t)
	fx.failOpen = true

	eng, err := New(testConfig("false", stubPipeline("a", "s", fixed("pass", "data"))), fx.registry, component.Dependencies{})
	require.NoError(t, err)

	err = eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, component.StateFailed, eng.State())
}

func TestEngine_StopAbandonsStuckSource(t *testing.T) {
	fx := newFixture(t)

	p := stubPipeline("a", "stuck", fixed("pass", "data"))
	p.Source.Params = json.RawMessage(`{"block":true}`)
	eng, err := New(testConfig("false", p), fx.registry, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	began := time.Now()
	require.NoError(t, eng.Stop())
	elapsed := time.Since(began)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, fx.source("stuck").closed.Load(), "abandoned sources are still closed")
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	fx := newFixture(t)

	eng, err := New(testConfig("false", stubPipeline("a", "s", fixed("pass", "data"))), fx.registry, component.Dependencies{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool { return eng.State() == component.StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, component.StateStopped, eng.State())
}

func TestEngine_Metrics(t *testing.T) {
	fx := newFixture(t)
	registry := metric.NewMetricsRegistry()

	eng, err := New(testConfig("false",
		stubPipeline("a", "s", fixed("pass", "data")),
		stubPipeline("b", "s", fixed("pass", "visual")),
	), fx.registry, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["watchpost_engine_starts_total"])
	assert.True(t, found["watchpost_engine_invalid_pipelines"])
	assert.True(t, found["watchpost_engine_stop_duration_seconds"])
}

func TestEngine_Handlers(t *testing.T) {
	fx := newFixture(t)

	p := stubPipeline("a", "s", fixed("pass", "data"))
	p.Zone = "garage"
	cfg := testConfig("@A@", p)
	cfg.Controller.Zones = map[string]bool{"garage": true}
	eng, err := New(cfg, fx.registry, component.Dependencies{})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/status", eng.StatusHandler())
	mux.Handle("/zones", eng.ZonesHandler())
	mux.Handle("/zones/", eng.ZonesHandler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	do := func(method, path string) (int, map[string]any) {
		req, err := http.NewRequest(method, ts.URL+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := do(http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "created", body["state"])
	assert.Equal(t, eng.RunID(), body["run_id"])

	code, body = do(http.MethodPost, "/zones/garage/toggle")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["armed"])

	code, _ = do(http.MethodPut, "/zones/garage?armed=true")
	assert.Equal(t, http.StatusOK, code)

	code, body = do(http.MethodGet, "/zones")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"garage": true}, body)

	code, _ = do(http.MethodPut, "/zones/garage?armed=maybe")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(http.MethodPost, "/zones/attic/toggle")
	assert.Equal(t, http.StatusNotFound, code)
}
