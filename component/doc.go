// Package component defines the plugin contracts of watchpost and the
// registry that turns configuration type names into plugin instances.
//
// There are three plugin kinds:
//
//   - Source: produces samples in one Domain (visual, audio, data)
//   - Stage: transforms a sample and decides whether the chain continues
//   - Action: receives the alert payloads of a positive decision
//
// Plugins are registered by explicit calls at startup (see package
// componentregistry) into a Registry instance that is then handed to the
// engine:
//
//	registry := component.NewRegistry()
//	if err := componentregistry.Register(registry); err != nil {
//	    return err
//	}
//	src, err := registry.NewSource("testpattern", "camera", params, deps)
//
// Factories receive raw JSON parameters and decode them with DecodeParams,
// which rejects unknown fields, oversized documents and control characters.
package component
