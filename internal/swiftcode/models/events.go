package models

import "time"

// EventType names a registry change.
type EventType string

const (
	EventCodeCreated   EventType = "swift_code.created"
	EventCodeDeleted   EventType = "swift_code.deleted"
	EventBatchIngested EventType = "swift_code.batch_ingested"
)

// ChangeEvent is published after a committed mutation.
type ChangeEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Code           string    `json:"swift_code,omitempty"`
	IsHeadquarters bool      `json:"is_headquarters,omitempty"`
	Count          int       `json:"count,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
