package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the payloads on the sync queue.
type MessageKind string

const (
	KindSync   MessageKind = "sync"
	KindDelete MessageKind = "delete"
)

// SyncMessage tells the worker a transaction changed. It carries only
// the id; the worker fetches the full record from the database so the
// queue never holds stale data.
type SyncMessage struct {
	Kind      MessageKind `json:"kind"`
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewSyncMessage creates a message queueing a transaction for export.
func NewSyncMessage(id int64) *SyncMessage {
	return &SyncMessage{
		Kind:      KindSync,
		ID:        id,
		Timestamp: time.Now(),
	}
}

// NewDeleteMessage creates a message signalling a transaction removal.
func NewDeleteMessage(id int64) *SyncMessage {
	return &SyncMessage{
		Kind:      KindDelete,
		ID:        id,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncMessageFromJSON creates a message from JSON bytes
func SyncMessageFromJSON(data []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Kind != KindSync && msg.Kind != KindDelete {
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	if msg.ID <= 0 {
		return nil, fmt.Errorf("invalid transaction id %d", msg.ID)
	}
	return &msg, nil
}
