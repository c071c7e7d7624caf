package gormstore

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
)

type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

var _ repository.ChatStore = (*ChatStore)(nil)

func (s *ChatStore) InsertMessage(ctx context.Context, m *models.ChatMessage) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(m)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *ChatStore) ListByTask(ctx context.Context, taskID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&msgs).Error
	return msgs, err
}
