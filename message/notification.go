package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is the wire form of one dispatched batch. Actions that
// serialise batches (file, webhook, broker, websocket) all use it so
// consumers see a single schema.
type Notification struct {
	ID     string    `json:"id"`
	Action string    `json:"action"`
	Time   time.Time `json:"time"`
	Count  int       `json:"count"`
	Alerts []any     `json:"alerts"`
}

// NewNotification wraps batch for action.
func NewNotification(action string, batch []any) Notification {
	alerts := batch
	if alerts == nil {
		alerts = []any{}
	}
	return Notification{
		ID:     uuid.NewString(),
		Action: action,
		Time:   time.Now().UTC(),
		Count:  len(alerts),
		Alerts: alerts,
	}
}

// Marshal encodes the notification as JSON.
func (n Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}
