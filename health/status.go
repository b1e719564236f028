// Package health tracks per-worker health and aggregates it into a system
// status for the /health endpoint.
package health

import (
	"regexp"
	"strings"
	"time"
)

// Health levels.
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?|smtp)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health of one worker or of the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries counters attached to a worker status.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int64         `json:"error_count"`
	Processed    int64         `json:"processed,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == LevelHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == LevelDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == LevelUnhealthy }

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

func newStatus(component, level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, LevelHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, LevelUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, LevelDegraded, message)
}

// WorkerReport is what a worker knows about itself.
type WorkerReport struct {
	Alive      bool
	Started    time.Time
	LastError  error
	ErrorCount int64
	Processed  int64
	LastActive time.Time
}

// FromWorker converts a worker report into a Status. A live worker with
// recent errors is degraded; a dead worker is unhealthy. Error text is
// sanitized before it is exposed.
func FromWorker(name string, r WorkerReport) Status {
	var s Status
	switch {
	case !r.Alive:
		msg := "worker not running"
		if r.LastError != nil {
			msg = sanitizeErrorMessage(r.LastError.Error())
		}
		s = NewUnhealthy(name, msg)
	case r.LastError != nil:
		s = NewDegraded(name, sanitizeErrorMessage(r.LastError.Error()))
	default:
		s = NewHealthy(name, "running")
	}

	var uptime time.Duration
	if !r.Started.IsZero() {
		uptime = time.Since(r.Started)
	}
	return s.WithMetrics(&Metrics{
		Uptime:       uptime,
		ErrorCount:   r.ErrorCount,
		Processed:    r.Processed,
		LastActivity: r.LastActive,
	})
}

// sanitizeErrorMessage strips URLs, paths, addresses and credentials from an
// error string.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}

	return sanitized
}

// Aggregate folds sub-statuses: any unhealthy makes the aggregate unhealthy,
// otherwise any degraded makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no workers")
	}

	hasUnhealthy, hasDegraded := false, false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "one or more workers are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "one or more workers are degraded")
	default:
		status = NewHealthy(component, "all workers are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
