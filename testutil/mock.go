package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/c360/watchpost/component"
)

// MockSource is a testify mock of component.Source.
type MockSource struct {
	mock.Mock
	name   string
	domain component.Domain
}

// NewMockSource creates a mock source with a fixed name and domain.
func NewMockSource(name string, domain component.Domain) *MockSource {
	return &MockSource{name: name, domain: domain}
}

// Name implements component.Source.
func (m *MockSource) Name() string { return m.name }

// Domain implements component.Source.
func (m *MockSource) Domain() component.Domain { return m.domain }

// Acquire implements component.Source.
func (m *MockSource) Acquire(ctx context.Context) (any, error) {
	args := m.Called(ctx)
	return args.Get(0), args.Error(1)
}

// MockStage is a testify mock of component.Stage.
type MockStage struct {
	mock.Mock
	name   string
	domain component.Domain
}

// NewMockStage creates a mock stage with a fixed name and domain.
func NewMockStage(name string, domain component.Domain) *MockStage {
	return &MockStage{name: name, domain: domain}
}

// Name implements component.Stage.
func (m *MockStage) Name() string { return m.name }

// Domain implements component.Stage.
func (m *MockStage) Domain() component.Domain { return m.domain }

// Process implements component.Stage.
func (m *MockStage) Process(ctx context.Context, payload any) (component.Result, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(component.Result), args.Error(1)
}

// MockAction is a testify mock of component.Action.
type MockAction struct {
	mock.Mock
	name string
}

// NewMockAction creates a mock action.
func NewMockAction(name string) *MockAction {
	return &MockAction{name: name}
}

// Name implements component.Action.
func (m *MockAction) Name() string { return m.name }

// Notify implements component.Action.
func (m *MockAction) Notify(ctx context.Context, batch []any) error {
	return m.Called(ctx, batch).Error(0)
}
