package engine

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/controller"
	"github.com/c360/watchpost/health"
	"github.com/c360/watchpost/pipeline"
	"github.com/c360/watchpost/source"
)

// Status is a point-in-time view of the whole system.
type Status struct {
	RunID      string            `json:"run_id"`
	State      component.State   `json:"state"`
	Started    time.Time         `json:"started,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Sources    []source.Status   `json:"sources"`
	Pipelines  []pipeline.Status `json:"pipelines"`
	Controller controller.Status `json:"controller"`
	Validation ValidationResult  `json:"validation"`
	Health     health.Status     `json:"health"`
}

// Status reports every source, pipeline and the controller.
func (e *Engine) Status() Status {
	s := Status{
		RunID:      e.runID,
		State:      e.State(),
		Sources:    e.supervisor.Status(),
		Controller: e.controller.Status(),
		Validation: e.validation,
		Health:     e.monitor.AggregateHealth(SystemName),
	}
	if ns := e.started.Load(); ns > 0 {
		s.Started = time.Unix(0, ns)
		if s.State == component.StateRunning {
			s.Uptime = time.Since(s.Started).Truncate(time.Second).String()
		}
	}
	s.Pipelines = make([]pipeline.Status, 0, len(e.workers))
	for _, w := range e.workers {
		s.Pipelines = append(s.Pipelines, w.Status())
	}
	return s
}

// StatusHandler serves Status as JSON.
func (e *Engine) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, e.Status())
	})
}

// ZonesHandler serves the zone switches:
//
//	GET  /zones               current state of every zone
//	PUT  /zones/{name}?armed= arm (true) or disarm (false)
//	POST /zones/{name}/toggle flip
func (e *Engine) ZonesHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, _ *http.Request) {
		zones := e.Zones()
		if zones == nil {
			zones = map[string]bool{}
		}
		writeJSON(w, http.StatusOK, zones)
	})

	mux.HandleFunc("PUT /zones/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		armed, err := strconv.ParseBool(r.URL.Query().Get("armed"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "armed must be true or false"})
			return
		}
		if err := e.SetZone(name, armed); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"zone": name, "armed": armed})
	})

	mux.HandleFunc("POST /zones/{name}/toggle", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		armed, err := e.ToggleZone(name)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"zone": name, "armed": armed})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
