package database

import (
	"path/filepath"
	"testing"

	"github.com/creativable/mailsync/internal/database/models"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

func TestOpenSQLiteCreatesDirAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "mail.db")
	db, err := Open(Options{Driver: "sqlite", Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	for _, model := range []interface{}{&models.User{}, &models.EmailAccount{}, &models.Email{}, &models.Folder{}, &models.SyncState{}, &models.Log{}} {
		if !db.Migrator().HasTable(model) {
			t.Errorf("Table for %T was not migrated", model)
		}
	}
	if !db.Migrator().HasIndex(&models.Email{}, "idx_emails_message_user") {
		t.Error("Composite (message_id, user_id) index missing")
	}
}

func TestEmailUniquePerUser(t *testing.T) {
	db, err := Initialize(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	rows := []models.Email{
		{UserID: 1, MessageID: "<a@example.com>", Folder: models.FolderInbox},
		{UserID: 2, MessageID: "<a@example.com>", Folder: models.FolderInbox},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("Same message for another user should be allowed: %v", err)
		}
	}
	dup := models.Email{UserID: 1, MessageID: "<a@example.com>", Folder: models.FolderInbox}
	if err := db.Create(&dup).Error; err == nil {
		t.Error("Duplicate message for the same user was accepted")
	}
}

func TestOpenRejectsBadDriverConfig(t *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}, zap.NewNop()); err == nil {
		t.Error("Expected an error for an unsupported driver")
	}
	if _, err := Open(Options{Driver: "postgres"}, zap.NewNop()); err == nil {
		t.Error("Expected an error for postgres without a DSN")
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"DEBUG":  logger.Info,
		"debug":  logger.Info,
		"ERROR":  logger.Error,
		"SILENT": logger.Silent,
		"INFO":   logger.Warn,
		"":       logger.Warn,
	}
	for in, want := range tests {
		if got := gormLogLevel(in); got != want {
			t.Errorf("gormLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
