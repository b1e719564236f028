// Package testutil provides test doubles for watchpost packages.
//
// MockNATSClient is an in-memory component.Messenger: published messages
// are recorded per subject and delivered synchronously to subscribers, so
// broker-backed plugins can be tested without a server. Helpers such as
// WaitForMessage poll it with a timeout.
//
// MockSource, MockStage and MockAction are testify mocks of the plugin
// interfaces:
//
//	stage := testutil.NewMockStage("gate", component.DomainVisual)
//	stage.On("Process", mock.Anything, mock.Anything).Return(component.Halt(nil), nil)
//
// StubSource, StubStage and RecordingAction are hand-written fakes for tests
// that run real workers and need goroutine-safe, expectation-free behavior.
package testutil
