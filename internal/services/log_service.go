package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LogService persists diagnostic log rows and mirrors them to the process logger
type LogService struct {
	db       *gorm.DB
	log      *zap.Logger
	logLevel models.LogLevel
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB, log *zap.Logger) *LogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogService{
		db:       db,
		log:      log,
		logLevel: models.LogLevelInfo, // Default log level
	}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

// SetLogLevel sets the minimum persisted log level
func (s *LogService) SetLogLevel(level string) {
	s.logLevel = parseLogLevel(level)
}

// GetLogLevel returns the current log level
func (s *LogService) GetLogLevel() models.LogLevel {
	return s.logLevel
}

var levelPriority = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	return levelPriority[level] >= levelPriority[s.logLevel]
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	UserID  uint
	Level   models.LogLevel
	Module  models.LogModule
	Folder  string
	Action  string
	Message string
	Details interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	s.mirror(entry, detailsJSON)

	row := &models.Log{
		UserID:  entry.UserID,
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Folder:  entry.Folder,
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}
	return s.db.Create(row).Error
}

func (s *LogService) mirror(entry LogEntry, details string) {
	fields := []zap.Field{
		zap.Uint("user_id", entry.UserID),
		zap.String("module", string(entry.Module)),
		zap.String("action", entry.Action),
	}
	if entry.Folder != "" {
		fields = append(fields, zap.String("folder", entry.Folder))
	}
	if details != "" {
		fields = append(fields, zap.String("details", details))
	}

	switch entry.Level {
	case models.LogLevelDebug:
		s.log.Debug(entry.Message, fields...)
	case models.LogLevelWarn:
		s.log.Warn(entry.Message, fields...)
	case models.LogLevelError:
		s.log.Error(entry.Message, fields...)
	default:
		s.log.Info(entry.Message, fields...)
	}
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{UserID: userID, Level: models.LogLevelInfo, Module: module, Action: action, Message: message, Details: details})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{UserID: userID, Level: models.LogLevelWarn, Module: module, Action: action, Message: message, Details: details})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{UserID: userID, Level: models.LogLevelError, Module: module, Action: action, Message: message, Details: details})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{UserID: userID, Level: models.LogLevelDebug, Module: module, Action: action, Message: message, Details: details})
}

// SyncRunDetails represents details for sync run logs
type SyncRunDetails struct {
	RunID       string `json:"run_id"`
	EmailsCount int    `json:"emails_count"`
	Inserted    int    `json:"inserted"`
	Synthetic   bool   `json:"synthetic,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

// LogSyncRun logs the end of a sync run
func (s *LogService) LogSyncRun(userID uint, folder string, details SyncRunDetails, err error) error {
	level := models.LogLevelInfo
	message := "Sync completed"
	if err != nil {
		level = models.LogLevelError
		message = "Sync failed"
		details.ErrorMsg = err.Error()
	}
	return s.Log(LogEntry{
		UserID:  userID,
		Level:   level,
		Module:  models.LogModuleSync,
		Folder:  folder,
		Action:  "run",
		Message: message,
		Details: details,
	})
}

// LogFolderOperation logs a mailbox mutation
func (s *LogService) LogFolderOperation(userID uint, op, path string, err error) error {
	details := map[string]interface{}{"op": op, "path": path, "status": "success"}
	level := models.LogLevelInfo
	message := "Folder " + op + " succeeded"
	if err != nil {
		level = models.LogLevelWarn
		details["status"] = "failed"
		details["error_msg"] = err.Error()
		message = "Folder " + op + " failed"
	}
	return s.Log(LogEntry{
		UserID:  userID,
		Level:   level,
		Module:  models.LogModuleFolder,
		Folder:  path,
		Action:  op,
		Message: message,
		Details: details,
	})
}

// LogRepairStep logs one step of a reset or repair
func (s *LogService) LogRepairStep(userID uint, step StepResult) error {
	level := models.LogLevelInfo
	if !step.Success {
		level = models.LogLevelWarn
	}
	return s.Log(LogEntry{
		UserID:  userID,
		Level:   level,
		Module:  models.LogModuleRepair,
		Action:  step.Step,
		Message: step.Message,
		Details: step,
	})
}

// LogLogin logs a login attempt
func (s *LogService) LogLogin(userID uint, username, clientIP string, success bool) error {
	level := models.LogLevelInfo
	message := "User logged in successfully"
	status := "success"
	if !success {
		level = models.LogLevelWarn
		message = "Login attempt failed"
		status = "failed"
	}
	return s.Log(LogEntry{
		UserID:  userID,
		Level:   level,
		Module:  models.LogModuleAuth,
		Action:  "login",
		Message: message,
		Details: map[string]string{"username": username, "client_ip": clientIP, "status": status},
	})
}

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	UserID    uint
	Level     string
	Module    string
	Action    string
	Folder    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64        `json:"total"`
	Logs  []models.Log `json:"logs"`

	// MinLevel is the lowest level currently persisted
	MinLevel models.LogLevel `json:"min_level"`
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.UserID > 0 {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.Folder != "" {
		db = db.Where("folder = ?", query.Folder)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC, id DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{Total: total, Logs: logs, MinLevel: s.GetLogLevel()}, nil
}
