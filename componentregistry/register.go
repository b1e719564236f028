// Package componentregistry registers the built-in watchpost plugins.
package componentregistry

import (
	"errors"

	"github.com/c360/watchpost/component"
	pkgerrors "github.com/c360/watchpost/errors"
	natsinput "github.com/c360/watchpost/input/nats"
	"github.com/c360/watchpost/input/testpattern"
	"github.com/c360/watchpost/input/tone"
	"github.com/c360/watchpost/input/udp"
	"github.com/c360/watchpost/output/email"
	"github.com/c360/watchpost/output/file"
	"github.com/c360/watchpost/output/httppost"
	logaction "github.com/c360/watchpost/output/log"
	natsoutput "github.com/c360/watchpost/output/nats"
	"github.com/c360/watchpost/output/websocket"
	"github.com/c360/watchpost/processor/alerter"
	"github.com/c360/watchpost/processor/jsonmatch"
	"github.com/c360/watchpost/processor/loudness"
	"github.com/c360/watchpost/processor/motion"
)

// Register adds every built-in source, stage and action type to registry:
//
// Sources:
//   - testpattern (synthetic frames, visual domain)
//   - tone (synthetic audio clips, audio domain)
//   - udp (datagrams, data domain)
//   - nats (latest message on a subject, data domain)
//
// Stages:
//   - motion (frame differencing)
//   - loudness (RMS level gate)
//   - jsonmatch (field conditions on JSON payloads)
//   - alerter (terminal stage raising an alert)
//
// Actions:
//   - log, file, httppost, nats, email, websocket
func Register(registry *component.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	sources := []struct {
		typ, desc string
		factory   component.SourceFactory
	}{
		{"testpattern", "Synthetic video frames (blank, noise or moving square)", testpattern.NewSource},
		{"tone", "Synthetic audio clips (silence, sine tone or noise)", tone.NewSource},
		{"udp", "UDP datagram listener", udp.NewSource},
		{"nats", "Latest message published on a NATS subject", natsinput.NewSource},
	}
	for _, s := range sources {
		if err := registry.RegisterSource(s.typ, s.desc, s.factory); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", s.typ+" source registration")
		}
	}

	stages := []struct {
		typ, desc string
		factory   component.StageFactory
	}{
		{"motion", "Frame differencing motion detector", motion.NewStage},
		{"loudness", "Audio level gate", loudness.NewStage},
		{"jsonmatch", "Field conditions on JSON payloads", jsonmatch.NewStage},
		{"alerter", "Terminal stage raising an alert", alerter.NewStage},
	}
	for _, s := range stages {
		if err := registry.RegisterStage(s.typ, s.desc, s.factory); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", s.typ+" stage registration")
		}
	}

	actions := []struct {
		typ, desc string
		factory   component.ActionFactory
	}{
		{"log", "Structured log line per batch", logaction.NewAction},
		{"file", "JSON lines appended to a file", file.NewAction},
		{"httppost", "HTTP POST webhook", httppost.NewAction},
		{"nats", "Publish batches to a NATS subject", natsoutput.NewAction},
		{"email", "SMTP email notification", email.NewAction},
		{"websocket", "Broadcast batches to websocket clients", websocket.NewAction},
	}
	for _, a := range actions {
		if err := registry.RegisterAction(a.typ, a.desc, a.factory); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", a.typ+" action registration")
		}
	}

	return nil
}
