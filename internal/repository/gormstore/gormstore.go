// Package gormstore implements the repository ports on postgres via gorm.
// Lifecycle transitions are single UPDATE ... WHERE <guard> RETURNING *
// statements so concurrent callers cannot both pass the same guard.
package gormstore

import (
	"errors"

	"gorm.io/gorm"

	"github.com/kazilink/kazilink-api/internal/repository"
)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repository.ErrDuplicate
	default:
		return err
	}
}
