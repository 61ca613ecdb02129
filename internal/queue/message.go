package queue

import (
	"encoding/json"
	"time"
)

const (
	// KindBlobDelete asks the worker to remove a blob that is no longer referenced.
	KindBlobDelete = "blob.delete"
	// MessageVersion is the current payload version.
	MessageVersion = 1
)

// Message is the payload sent to cleanup consumers.
type Message struct {
	Kind       string `json:"kind"`
	StorageKey string `json:"storageKey"`
	Reason     string `json:"reason,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewBlobDelete builds a blob deletion message stamped with now.
func NewBlobDelete(storageKey, reason, requestID string, now time.Time) Message {
	return Message{
		Kind:       KindBlobDelete,
		StorageKey: storageKey,
		Reason:     reason,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
