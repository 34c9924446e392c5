package amqp

import (
	"encoding/json"
	"time"
)

// SnapshotSyncMessage tells the worker a queued snapshot needs pushing to
// the backend. It carries only the queue row id; the worker loads the full
// snapshot from local storage.
type SnapshotSyncMessage struct {
	QueueID    string    `json:"queue_id"`
	DriverID   string    `json:"driver_id"`
	PeriodType string    `json:"period_type"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewSnapshotSyncMessage(queueID, driverID, periodType string) *SnapshotSyncMessage {
	return &SnapshotSyncMessage{
		QueueID:    queueID,
		DriverID:   driverID,
		PeriodType: periodType,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SnapshotSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SnapshotSyncMessageFromJSON creates a message from JSON bytes
func SnapshotSyncMessageFromJSON(data []byte) (*SnapshotSyncMessage, error) {
	var msg SnapshotSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
