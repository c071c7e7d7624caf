package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChatMessage is the persisted copy of a message that originated in the
// provider's realtime chat. ExternalID is the idempotency key.
type ChatMessage struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ExternalID   string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"externalId"`
	TaskID       string         `gorm:"index" json:"taskId"`
	SenderID     string         `gorm:"index" json:"senderId"`
	Message      string         `gorm:"type:text" json:"message"`
	SenderName   string         `json:"senderName"`
	SenderAvatar string         `json:"senderAvatar"`
	RawPayload   datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
}
