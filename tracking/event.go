// Package tracking implements the realtime shipment-status pipeline: a
// Postgres LISTEN/NOTIFY consumer, a sharded in-process fan-out registry,
// and the admission gate for WebSocket subscribers.
package tracking

import (
	"encoding/json"
	"fmt"
)

// StatusEvent is one status transition as pushed to subscribers. The
// canonical wire shape uses statusId/statusName; payloads carrying the older
// newStatusId/newStatusName names are still accepted on input.
type StatusEvent struct {
	ShipmentID        string `json:"shipmentId"`
	StatusID          int64  `json:"statusId"`
	StatusName        string `json:"statusName"`
	StatusDescription string `json:"statusDescription,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// ParseStatusEvent decodes a notification payload. Payloads missing the
// shipment id or status id are rejected so the listener can drop them.
func ParseStatusEvent(payload []byte) (StatusEvent, error) {
	var raw struct {
		StatusEvent
		NewStatusID   int64  `json:"newStatusId"`
		NewStatusName string `json:"newStatusName"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return StatusEvent{}, fmt.Errorf("tracking: decode notification: %w", err)
	}

	event := raw.StatusEvent
	if event.StatusID == 0 {
		event.StatusID = raw.NewStatusID
	}
	if event.StatusName == "" {
		event.StatusName = raw.NewStatusName
	}

	if event.ShipmentID == "" {
		return StatusEvent{}, fmt.Errorf("tracking: notification missing shipmentId")
	}
	if event.StatusID == 0 {
		return StatusEvent{}, fmt.Errorf("tracking: notification missing statusId")
	}

	return event, nil
}

// Marshal serializes the event in its canonical wire shape.
func (e StatusEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
