// Package watchpost is an always-on monitoring runtime. It samples data from
// sources, runs each sample through per-pipeline chains of analysis stages,
// and notifies an action when a boolean query over the pipelines' alert
// status holds.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            Engine                   │  build, validate, start, stop
//	│   (supervisor, zones, status)       │
//	└─────────────────────────────────────┘
//	           ↓ spawns
//	┌─────────────────────────────────────┐
//	│   Source workers → Mailboxes        │  one worker per source name,
//	│                                     │  respawned when it dies
//	└─────────────────────────────────────┘
//	           ↓ latest sample
//	┌─────────────────────────────────────┐
//	│   Pipeline workers                  │  sequential stages,
//	│   (stage → stage → … → alert)       │  short-circuit on halt
//	└─────────────────────────────────────┘
//	           ↓ alert events
//	┌─────────────────────────────────────┐
//	│   Controller                        │  drain, group, query,
//	│   (query over @PIPELINE@ names)     │  dispatch through a pool
//	└─────────────────────────────────────┘
//
// # Packages
//
// Core:
//   - mailbox: single-slot, last-value-wins handoff
//   - source: supervised source workers
//   - pipeline: stage chain execution
//   - controller, controller/query: aggregation and the boolean query language
//   - engine: wiring and lifecycle
//
// Plugins, resolved by type name through component.Registry and registered
// by componentregistry:
//   - input/testpattern, input/tone, input/udp, input/nats
//   - processor/motion, processor/loudness, processor/jsonmatch, processor/alerter
//   - output/log, output/file, output/httppost, output/nats, output/email,
//     output/websocket
//
// Infrastructure: config, errors, health, metric, message, natsclient,
// pkg/cache, pkg/retry, pkg/tlsutil, pkg/worker, testutil.
//
// # Running
//
//	watchpost -config configs/watchpost.yaml
//	watchpost -config base.yaml,site.yaml -log-level debug
//	watchpost -config configs/watchpost.yaml -validate
//	watchpost -list-plugins
package watchpost
