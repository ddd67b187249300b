package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creativable/mailsync/internal/database/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options selects the backend and gorm log verbosity
type Options struct {
	Driver   string // sqlite (default) or postgres
	Path     string // sqlite file
	DSN      string // postgres connection string
	LogLevel string
}

// Initialize creates and returns a database connection
func Initialize(dbPath string) (*gorm.DB, error) {
	return Open(Options{Driver: "sqlite", Path: dbPath, LogLevel: "WARN"}, zap.NewNop())
}

// Open connects to the configured backend and runs migrations
func Open(opts Options, log *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(opts.LogLevel)),
	}

	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "postgres", "postgresql":
		if opts.DSN == "" {
			return nil, fmt.Errorf("database_dsn is required for postgres")
		}
		dialector = postgres.Open(opts.DSN)
	case "", "sqlite":
		// Ensure the directory exists
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(opts.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, log); err != nil {
		return nil, err
	}

	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logger.Info
	case "ERROR":
		return logger.Error
	case "SILENT":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.EmailAccount{},
		&models.Email{},
		&models.Folder{},
		&models.SyncState{},
		&models.Log{},
	); err != nil {
		return err
	}

	// 早期版本 message_id 单列唯一，多用户同一邮件会冲突
	for _, idx := range []string{"message_id", "idx_emails_message_id"} {
		if db.Migrator().HasIndex(&models.Email{}, idx) {
			if err := db.Migrator().DropIndex(&models.Email{}, idx); err != nil {
				log.Warn("drop legacy email index failed", zap.String("index", idx), zap.Error(err))
			} else {
				log.Info("dropped legacy email index", zap.String("index", idx))
			}
		}
	}

	// Rows written before folders were tracked belong to the inbox
	db.Model(&models.Email{}).Where("folder = '' OR folder IS NULL").Update("folder", models.FolderInbox)

	return nil
}
