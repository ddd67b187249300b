package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/creativable/mailsync/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultIngestBatchSize is the number of rows per INSERT statement
	DefaultIngestBatchSize = 25
	// DefaultIngestBatchPause spaces batches so a large sync does not monopolise the database
	DefaultIngestBatchPause = 300 * time.Millisecond
)

// SaveResult summarises one Save call.
// SavedCount is the number of emails in batches that committed, duplicates included;
// Inserted counts rows that were actually new.
type SaveResult struct {
	SavedCount    int `json:"saved_count"`
	Inserted      int `json:"inserted"`
	FailedBatches int `json:"failed_batches"`
}

// IngestService writes fetched emails, insert-if-absent on (message_id, user_id)
type IngestService struct {
	db         *gorm.DB
	logService *LogService
	log        *zap.Logger
	batchSize  int
	batchPause time.Duration
}

// NewIngestService creates a writer with the default batch size and pause
func NewIngestService(db *gorm.DB, logService *LogService, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{
		db:         db,
		logService: logService,
		log:        log,
		batchSize:  DefaultIngestBatchSize,
		batchPause: DefaultIngestBatchPause,
	}
}

// SetBatching overrides batch size and pause
func (s *IngestService) SetBatching(size int, pause time.Duration) {
	if size > 0 {
		s.batchSize = size
	}
	if pause >= 0 {
		s.batchPause = pause
	}
}

// Save persists emails under folder for userID. A failing batch is logged and skipped,
// so the only error returned is context cancellation between batches.
func (s *IngestService) Save(ctx context.Context, userID uint, emails []FetchedEmail, folder string) (*SaveResult, error) {
	result := &SaveResult{}
	if len(emails) == 0 {
		return result, nil
	}
	folder = folderOrDefault(folder, models.FolderInbox)

	rows := make([]models.Email, 0, len(emails))
	for _, e := range emails {
		rows = append(rows, toEmailRow(userID, folder, e))
	}

	failedRows := 0
	for start, batch := 0, 0; start < len(rows); start, batch = start+s.batchSize, batch+1 {
		if start > 0 && s.batchPause > 0 {
			if err := sleepContext(ctx, s.batchPause); err != nil {
				return result, err
			}
		} else if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&chunk)
		if tx.Error != nil {
			writeErr := &WriteError{Batch: batch, Size: len(chunk), Cause: tx.Error}
			result.FailedBatches++
			failedRows += len(chunk)
			s.log.Error("ingest batch skipped", zap.Uint("user_id", userID), zap.String("folder", folder), zap.Error(writeErr))
			if s.logService != nil {
				s.logService.LogError(userID, models.LogModuleIngest, "batch_failed", writeErr.Error(), map[string]interface{}{
					"folder": folder,
					"batch":  batch,
					"size":   len(chunk),
				})
			}
			continue
		}

		result.SavedCount += len(chunk)
		result.Inserted += int(tx.RowsAffected)
	}

	metrics.RecordIngest(result.Inserted, result.SavedCount-result.Inserted, failedRows)
	return result, nil
}

func toEmailRow(userID uint, folder string, e FetchedEmail) models.Email {
	messageID := e.MessageID
	if messageID == "" {
		messageID = generatedMessageID(e.Date, e.Subject, e.From)
	}
	to := e.To
	if to == nil {
		to = []string{}
	}
	toJSON, _ := json.Marshal(to)
	flags := e.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, _ := json.Marshal(flags)

	received := e.ReceivedAt
	if received.IsZero() {
		received = e.Date
	}

	return models.Email{
		UserID:         userID,
		Folder:         folder,
		MessageID:      messageID,
		UID:            e.UID,
		Subject:        e.Subject,
		FromAddr:       e.From,
		ToAddrs:        string(toJSON),
		Body:           e.Body,
		HTMLBody:       e.HTMLBody,
		SentAt:         e.Date,
		ReceivedAt:     received,
		IsRead:         hasFlag(e.Flags, "\\Seen"),
		IsStarred:      hasFlag(e.Flags, "\\Flagged"),
		HasAttachments: e.HasAttachments,
		Flags:          string(flagsJSON),
	}
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
