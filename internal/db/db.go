package db

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kazilink/kazilink-api/internal/models"
)

// Connect opens the postgres pool and routes gorm's slow-query and error
// output through the process logger.
func Connect(dsn string, log *slog.Logger) (*gorm.DB, error) {
	gormLog := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.User{}, &models.Task{}, &models.ChatMessage{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
