package message

import (
	"time"

	"github.com/google/uuid"
)

// Event is what a pipeline hands to the controller when its stage chain
// completes with an alert. Sender is the pipeline name.
type Event struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Alert   bool      `json:"alert"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(sender string, alert bool, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Sender:  sender,
		Alert:   alert,
		Payload: payload,
		Time:    time.Now(),
	}
}

// Alert is the payload produced by the built-in alerting stage.
type Alert struct {
	Pipeline string         `json:"pipeline"`
	Stage    string         `json:"stage"`
	Source   string         `json:"source,omitempty"`
	Message  string         `json:"message"`
	Time     time.Time      `json:"time"`
	Details  map[string]any `json:"details,omitempty"`
}
