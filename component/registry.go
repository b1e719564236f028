package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/watchpost/errors"
)

// Kind is the plugin category a type name is registered under.
type Kind int

const (
	KindSource Kind = iota
	KindStage
	KindAction
)

// String returns the kind name used in configuration and logs
func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindStage:
		return "stage"
	case KindAction:
		return "action"
	default:
		return "unknown"
	}
}

// Factories build a plugin instance from its name and raw parameters. They
// must not perform I/O; resources belong in Open or in the first call.
type (
	SourceFactory func(name string, params json.RawMessage, deps Dependencies) (Source, error)
	StageFactory  func(name string, params json.RawMessage, deps Dependencies) (Stage, error)
	ActionFactory func(name string, params json.RawMessage, deps Dependencies) (Action, error)
)

// Info describes a registered type.
type Info struct {
	Type        string `json:"type"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type registration struct {
	info   Info
	source SourceFactory
	stage  StageFactory
	action ActionFactory
}

// Registry maps type names to factories. It is built once at startup and
// passed by reference; there is no package-level registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]*registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[Kind]map[string]*registration{
			KindSource: {},
			KindStage:  {},
			KindAction: {},
		},
	}
}

func (r *Registry) register(kind Kind, typ string, reg *registration) error {
	if typ == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "type name validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind][typ]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s '%s'", errors.ErrDuplicateType, kind, typ),
			"Registry", "Register", "duplicate factory check")
	}

	reg.info.Type = typ
	reg.info.Kind = kind.String()
	r.factories[kind][typ] = reg
	return nil
}

// RegisterSource registers a source factory under typ.
func (r *Registry) RegisterSource(typ, description string, f SourceFactory) error {
	if f == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterSource", "factory validation")
	}
	return r.register(KindSource, typ, &registration{info: Info{Description: description}, source: f})
}

// RegisterStage registers a stage factory under typ.
func (r *Registry) RegisterStage(typ, description string, f StageFactory) error {
	if f == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterStage", "factory validation")
	}
	return r.register(KindStage, typ, &registration{info: Info{Description: description}, stage: f})
}

// RegisterAction registers an action factory under typ.
func (r *Registry) RegisterAction(typ, description string, f ActionFactory) error {
	if f == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterAction", "factory validation")
	}
	return r.register(KindAction, typ, &registration{info: Info{Description: description}, action: f})
}

func (r *Registry) lookup(kind Kind, typ, method string) (*registration, error) {
	r.mu.RLock()
	reg, ok := r.factories[kind][typ]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %w: %s '%s'", errors.ErrConfiguration, errors.ErrUnknownType, kind, typ),
			"Registry", method, "factory lookup")
	}
	return reg, nil
}

// NewSource builds a source of type typ.
func (r *Registry) NewSource(typ, name string, params json.RawMessage, deps Dependencies) (Source, error) {
	reg, err := r.lookup(KindSource, typ, "NewSource")
	if err != nil {
		return nil, err
	}
	src, err := reg.source(name, params, deps)
	if err != nil {
		return nil, errors.Configuration("Registry", "NewSource", "source %q (%s): %v", name, typ, err)
	}
	return src, nil
}

// NewStage builds a stage of type typ.
func (r *Registry) NewStage(typ, name string, params json.RawMessage, deps Dependencies) (Stage, error) {
	reg, err := r.lookup(KindStage, typ, "NewStage")
	if err != nil {
		return nil, err
	}
	stage, err := reg.stage(name, params, deps)
	if err != nil {
		return nil, errors.Configuration("Registry", "NewStage", "stage %q (%s): %v", name, typ, err)
	}
	return stage, nil
}

// NewAction builds an action of type typ.
func (r *Registry) NewAction(typ, name string, params json.RawMessage, deps Dependencies) (Action, error) {
	reg, err := r.lookup(KindAction, typ, "NewAction")
	if err != nil {
		return nil, err
	}
	action, err := reg.action(name, params, deps)
	if err != nil {
		return nil, errors.Configuration("Registry", "NewAction", "action %q (%s): %v", name, typ, err)
	}
	return action, nil
}

// Has reports whether typ is registered under kind.
func (r *Registry) Has(kind Kind, typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind][typ]
	return ok
}

// List returns the registered types of kind sorted by name.
func (r *Registry) List(kind Kind) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.factories[kind]))
	for _, reg := range r.factories[kind] {
		out = append(out, reg.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
