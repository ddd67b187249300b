package services

import (
	"errors"
	"testing"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Feature: 日志级别过滤
// Entries below the configured level are never persisted; entries at or above it always are.
func TestProperty_LogLevelFiltering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	levels := []models.LogLevel{models.LogLevelDebug, models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError}

	properties.Property("persisted_iff_at_or_above_level", prop.ForAll(
		func(configured, entry int) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()
			service := NewLogService(db, nil)
			service.SetLogLevel(string(levels[configured]))
			if service.GetLogLevel() != levels[configured] {
				return false
			}

			if err := service.Log(LogEntry{UserID: 1, Level: levels[entry], Module: models.LogModuleSync, Action: "run", Message: "m"}); err != nil {
				return false
			}
			var count int64
			db.Model(&models.Log{}).Count(&count)
			return (count == 1) == (entry >= configured)
		},
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestLogMirrorsToZap(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	core, recorded := observer.New(zap.DebugLevel)
	service := NewLogService(db, zap.New(core))

	service.LogSyncRun(3, "Archive", SyncRunDetails{RunID: "r1", EmailsCount: 2}, errors.New("timeout"))

	entries := recorded.FilterMessage("Sync failed").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one mirrored entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["folder"] != "Archive" || fields["module"] != "sync" {
		t.Errorf("Unexpected fields %v", fields)
	}

	result, err := service.QueryLogs(LogQuery{UserID: 3, Folder: "Archive", Level: "ERROR"})
	if err != nil {
		t.Fatalf("QueryLogs failed: %v", err)
	}
	if result.Total != 1 || result.Logs[0].Action != "run" {
		t.Errorf("Unexpected query result %+v", result)
	}
}

func TestQueryLogsPagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewLogService(db, nil)

	for i := 0; i < 7; i++ {
		service.LogFolderOperation(1, "create", "Work", nil)
	}
	service.LogFolderOperation(2, "delete", "Old", errors.New("NO"))

	page, err := service.QueryLogs(LogQuery{UserID: 1, Module: "folder", Page: 2, Limit: 5})
	if err != nil {
		t.Fatalf("QueryLogs failed: %v", err)
	}
	if page.Total != 7 || len(page.Logs) != 2 {
		t.Errorf("Expected total 7 and 2 on page 2, got %d and %d", page.Total, len(page.Logs))
	}
	if page.MinLevel != models.LogLevelInfo {
		t.Errorf("Expected min level INFO, got %s", page.MinLevel)
	}

	failed, _ := service.QueryLogs(LogQuery{Level: "WARN"})
	if failed.Total != 1 || failed.Logs[0].UserID != 2 {
		t.Errorf("Expected the failed delete, got %+v", failed)
	}
}
