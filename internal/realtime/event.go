package realtime

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	TaskCreated   EventType = "task:created"
	TaskApplied   EventType = "task:applied"
	TaskAssigned  EventType = "task:assigned"
	TaskCompleted EventType = "task:completed"
)

// Event is a best-effort notification about a task transition. A nil
// TargetUserID means every connected user.
type Event struct {
	Type         EventType      `json:"type"`
	TaskID       string         `json:"taskId"`
	TargetUserID *string        `json:"targetUserId"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func NewEvent(typ EventType, taskID uuid.UUID, target *uuid.UUID, payload map[string]any) Event {
	e := Event{
		Type:      typ,
		TaskID:    taskID.String(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if target != nil {
		s := target.String()
		e.TargetUserID = &s
	}
	return e
}

func (e Event) Broadcast() bool { return e.TargetUserID == nil }
