// Package engine builds a running watchpost system from a configuration
// document and owns its lifecycle.
//
// # Overview
//
// The engine resolves every plugin through a component.Registry, validates
// each pipeline, and wires the workers together:
//
//	┌──────────────┐  Set   ┌─────────┐  Get/Wait  ┌──────────────────┐
//	│ source worker│ ─────> │ mailbox │ ─────────> │ pipeline worker  │ (one per pipeline)
//	│ (supervised) │        └─────────┘            │ stage → … → stage│
//	└──────────────┘                               └────────┬─────────┘
//	                                                        │ alert event
//	                                                        ▼
//	                                              ┌───────────────────┐
//	                                              │ controller        │
//	                                              │ drain → decide    │
//	                                              └────────┬──────────┘
//	                                                       │ batch
//	                                                       ▼
//	                                              ┌───────────────────┐
//	                                              │ dispatch pool     │
//	                                              │ → action.Notify   │
//	                                              └───────────────────┘
//
// # Build
//
// New performs every check that can fail before a worker starts:
//
//  1. The document itself (config.Config.Validate): a controller action and
//     at least one pipeline, no conflicting source descriptors.
//  2. Plugin resolution: unknown types are configuration errors.
//  3. Pipeline validation: a pipeline with no stages or a stage whose domain
//     differs from its source is disabled. Other pipelines are unaffected.
//     Stages implementing component.DomainBinder with no configured domain
//     take the domain of their source first.
//  4. The query template is parsed with every placeholder substituted. A
//     malformed query is reported as a warning and decides false at run
//     time. Placeholders naming no valid pipeline are warnings too; they
//     always evaluate to false.
//
// If no pipeline survives validation the build fails with a configuration
// error.
//
// # Lifecycle
//
// Start opens plugins implementing component.Opener, then spawns source
// workers, the supervision loop, the controller and one worker per valid
// pipeline. Stop force-cancels the pipeline workers and the controller
// without waiting for them, signals the source workers, waits for them for
// at most the configured shutdown grace, and then closes plugins
// implementing component.Closer. Workers still running after the grace
// period are abandoned.
//
// # Runtime control
//
//	eng.Status()                // sources, pipelines, controller, health
//	eng.LatestSample("camera")  // current mailbox content
//	eng.SetZone("garage", false)
//	eng.ToggleZone("garage")
package engine
