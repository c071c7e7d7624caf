// Package chatsync persists chat messages that were written to the
// provider's realtime chat. The provider calls the webhook once per inserted
// row; redeliveries are absorbed by the external id.
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/session"
)

// Directory resolves provider-side chat references. identity.Client
// implements it against the provider's REST tables.
type Directory interface {
	RoomTask(ctx context.Context, roomID string) (string, error)
	ChatUserInternalID(ctx context.Context, chatUserID string) (string, error)
}

type Service struct {
	messages repository.ChatStore
	tasks    repository.TaskStore
	dir      Directory
	log      *slog.Logger
	now      func() time.Time
}

func NewService(messages repository.ChatStore, tasks repository.TaskStore, dir Directory, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	if dir == nil {
		dir = noDirectory{}
	}
	return &Service{messages: messages, tasks: tasks, dir: dir, log: log, now: time.Now}
}

type noDirectory struct{}

func (noDirectory) RoomTask(context.Context, string) (string, error)           { return "", nil }
func (noDirectory) ChatUserInternalID(context.Context, string) (string, error) { return "", nil }

var errInvalidPayload = apperr.Validation("Invalid webhook payload", apperr.FieldErrors{"new": {"row is required"}})

// row extracts the inserted row from any of the shapes the provider sends:
// {"new": {...}}, {"record": {...}} or {"payload": {"new": {...}}}.
func row(body []byte) (map[string]any, error) {
	var env struct {
		New     map[string]any `json:"new"`
		Record  map[string]any `json:"record"`
		Payload struct {
			New map[string]any `json:"new"`
		} `json:"payload"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, errInvalidPayload
	}
	switch {
	case env.New != nil:
		return env.New, nil
	case env.Record != nil:
		return env.Record, nil
	case env.Payload.New != nil:
		return env.Payload.New, nil
	}
	return nil, errInvalidPayload
}

func str(r map[string]any, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Ingest stores the webhook's row. created reports whether this delivery
// inserted it; a repeat delivery of the same id is a successful no-op.
func (s *Service) Ingest(ctx context.Context, body []byte) (msg *models.ChatMessage, created bool, err error) {
	r, err := row(body)
	if err != nil {
		return nil, false, err
	}
	externalID := strings.TrimSpace(str(r, "id"))
	if externalID == "" {
		return nil, false, apperr.Validation("Invalid webhook payload", apperr.FieldErrors{"id": {"id is required"}})
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, false, apperr.Validation("Invalid webhook payload", nil)
	}

	msg = &models.ChatMessage{
		ExternalID:   externalID,
		TaskID:       s.lookup(ctx, "room", str(r, "room_id"), s.dir.RoomTask),
		SenderID:     s.lookup(ctx, "sender", str(r, "sender_id"), s.dir.ChatUserInternalID),
		Message:      str(r, "message"),
		SenderName:   str(r, "sender_name"),
		SenderAvatar: str(r, "sender_avatar"),
		RawPayload:   datatypes.JSON(raw),
		CreatedAt:    s.now().UTC(),
	}
	if ts := str(r, "created_at"); ts != "" {
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			msg.CreatedAt = t.UTC()
		}
	}

	created, err = s.messages.InsertMessage(ctx, msg)
	if err != nil {
		return nil, false, apperr.Internal("Failed to store chat message", err)
	}
	s.log.Info("chat message synced", "action", "chat_synced", "external_id", externalID, "task_id", msg.TaskID, "created", created)
	return msg, created, nil
}

// lookup never fails the ingest: an unresolved reference is stored as "".
func (s *Service) lookup(ctx context.Context, what, id string, fn func(context.Context, string) (string, error)) string {
	if id == "" {
		return ""
	}
	v, err := fn(ctx, id)
	if err != nil {
		s.log.Warn("chat lookup failed", "action", "chat_lookup_failed", "kind", what, "id", id, logging.Err(err))
		return ""
	}
	return v
}

// History returns the stored messages of a task, oldest first, to the
// task's client, its assignee or an admin.
func (s *Service) History(ctx context.Context, actor session.Principal, taskID string) ([]models.ChatMessage, error) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return nil, apperr.NotFound("task_not_found", "Task not found")
	}
	t, err := s.tasks.GetTask(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("task_not_found", "Task not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to load task", err)
	}
	participant := t.ClientID == actor.ID || (t.AssignedTo != nil && *t.AssignedTo == actor.ID)
	if !participant && !actor.IsAdmin() {
		return nil, apperr.Forbidden("forbidden", "Not authorized to view this conversation")
	}

	msgs, err := s.messages.ListByTask(ctx, t.ID.String())
	if err != nil {
		return nil, apperr.Internal("Failed to fetch messages", err)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}
