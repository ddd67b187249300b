package services

import (
	"context"
	"fmt"

	"github.com/creativable/mailsync/internal/database/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repair step names, in execution order
const (
	StepReset          = "reset_email_sync"
	StepAdjustSettings = "adjust_connection_settings"
	StepTestConnection = "test_connection"
	StepFullSync       = "start_full_sync"
)

const (
	repairBatchSize  = 10
	repairMaxRetries = 5
)

// StepResult is the outcome of one reset or repair step
type StepResult struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message"`
}

// RepairReport lists every step in order plus the final sync outcome
type RepairReport struct {
	Steps []StepResult `json:"steps"`
	Sync  *SyncResult  `json:"sync,omitempty"`
}

// Success reports whether the final sync succeeded
func (r *RepairReport) Success() bool {
	return r.Sync != nil && r.Sync.Success
}

// RepairService wipes a user's synced state and starts over
type RepairService struct {
	db           *gorm.DB
	accounts     *AccountService
	negotiator   *Negotiator
	orchestrator *SyncOrchestrator
	gate         ThrottleGate
	logService   *LogService
	log          *zap.Logger
}

// NewRepairService creates a new RepairService instance
func NewRepairService(db *gorm.DB, accounts *AccountService, negotiator *Negotiator, orchestrator *SyncOrchestrator, gate ThrottleGate, logService *LogService, log *zap.Logger) *RepairService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RepairService{
		db:           db,
		accounts:     accounts,
		negotiator:   negotiator,
		orchestrator: orchestrator,
		gate:         gate,
		logService:   logService,
		log:          log,
	}
}

// Reset runs reset, connection test and a full sync
func (s *RepairService) Reset(ctx context.Context, userID uint) (*RepairReport, error) {
	return s.execute(ctx, userID, false)
}

// Repair additionally moves a 993/TLS account to 143/plain with doubled timeouts before testing
func (s *RepairService) Repair(ctx context.Context, userID uint) (*RepairReport, error) {
	return s.execute(ctx, userID, true)
}

func (s *RepairService) execute(ctx context.Context, userID uint, adjust bool) (*RepairReport, error) {
	if _, err := s.accounts.GetAccount(userID); err != nil {
		return nil, err
	}
	folder, err := s.orchestrator.ResolveFolder(userID, "")
	if err != nil {
		return nil, err
	}
	// The folder latch spans all steps so no sync can interleave with the reset
	key := syncKey(userID, folder)
	acquired, err := s.orchestrator.Latch().TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSyncAlreadyRunning
	}
	defer s.orchestrator.Latch().Release(context.Background(), key)

	report := &RepairReport{}
	record := func(step StepResult) {
		report.Steps = append(report.Steps, step)
		s.logService.LogRepairStep(userID, step)
	}

	record(s.resetEmailSync(ctx, userID))
	if adjust {
		record(s.adjustSettings(userID))
	}
	record(s.testConnection(ctx, userID))

	syncStep, result := s.startFullSync(ctx, userID, folder)
	record(syncStep)
	report.Sync = result
	return report, nil
}

// ResetEmailSync deletes every synced email and sync state of the user; deleting nothing is success
func (s *RepairService) ResetEmailSync(ctx context.Context, userID uint) (emails, states int64, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", userID).Delete(&models.Email{})
		if res.Error != nil {
			return res.Error
		}
		emails = res.RowsAffected
		res = tx.Where("user_id = ?", userID).Delete(&models.SyncState{})
		if res.Error != nil {
			return res.Error
		}
		states = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	// Throttle windows and catalog cooldown would otherwise block the immediate resync
	if err := s.gate.Clear(ctx, fetchUserPrefix(userID)); err != nil {
		s.log.Warn("fetch throttle not cleared", zap.Uint("user_id", userID), zap.Error(err))
	}
	if err := s.gate.Clear(ctx, catalogUserPrefix(userID)); err != nil {
		s.log.Warn("catalog cooldown not cleared", zap.Uint("user_id", userID), zap.Error(err))
	}
	s.orchestrator.ResetSelfHeal(userID)
	return emails, states, nil
}

func (s *RepairService) resetEmailSync(ctx context.Context, userID uint) StepResult {
	emails, states, err := s.ResetEmailSync(ctx, userID)
	if err != nil {
		return StepResult{Step: StepReset, Message: "Could not clear synced emails: " + err.Error()}
	}
	return StepResult{
		Step:    StepReset,
		Success: true,
		Message: fmt.Sprintf("Cleared %d emails and %d sync states", emails, states),
	}
}

func (s *RepairService) adjustSettings(userID uint) StepResult {
	account, err := s.accounts.GetAccount(userID)
	if err != nil {
		return StepResult{Step: StepAdjustSettings, Message: "Could not load connection settings: " + err.Error()}
	}
	if !account.UseSSL || account.IMAPPort != models.DefaultTLSPort {
		return StepResult{
			Step:    StepAdjustSettings,
			Success: true,
			Skipped: true,
			Message: fmt.Sprintf("Connection settings left unchanged (port %d)", account.IMAPPort),
		}
	}

	account.UseSSL = false
	account.IMAPPort = models.DefaultPlainPort
	account.ConnectTimeoutSec = doubled(account.ConnectTimeoutSec, models.DefaultConnectTimeoutSec)
	account.GreetingTimeoutSec = doubled(account.GreetingTimeoutSec, models.DefaultGreetingTimeoutSec)
	account.SocketTimeoutSec = doubled(account.SocketTimeoutSec, models.DefaultSocketTimeoutSec)
	if err := s.accounts.UpdateAccount(account); err != nil {
		return StepResult{Step: StepAdjustSettings, Message: "Could not save adjusted connection settings: " + err.Error()}
	}
	return StepResult{
		Step:    StepAdjustSettings,
		Success: true,
		Message: fmt.Sprintf("Switched to port %d without TLS and doubled timeouts", models.DefaultPlainPort),
	}
}

func doubled(current, fallback int) int {
	if current <= 0 {
		current = fallback
	}
	return current * 2
}

func (s *RepairService) testConnection(ctx context.Context, userID uint) StepResult {
	settings, err := s.accounts.ConnectionSettings(userID)
	if err != nil {
		return StepResult{Step: StepTestConnection, Message: "Connection test skipped, settings unreadable: " + err.Error()}
	}
	probe := s.negotiator.Probe(ctx, settings)
	if !probe.Success {
		return StepResult{Step: StepTestConnection, Message: "Connection test failed: " + probe.Message}
	}
	return StepResult{
		Step:    StepTestConnection,
		Success: true,
		Message: fmt.Sprintf("Connected to %s:%d in %d ms", probe.Host, probe.Port, probe.LatencyMs),
	}
}

func (s *RepairService) startFullSync(ctx context.Context, userID uint, folder string) (StepResult, *SyncResult) {
	result, err := s.orchestrator.RunLocked(ctx, userID, SyncOptions{
		Folder:       folder,
		ForceRefresh: true,
		BatchSize:    repairBatchSize,
		MaxRetries:   repairMaxRetries,
	})
	if err != nil {
		if result == nil {
			result = &SyncResult{Success: false, Message: err.Error()}
		}
		return StepResult{Step: StepFullSync, Message: "Full sync failed: " + err.Error()}, result
	}
	return StepResult{
		Step:    StepFullSync,
		Success: true,
		Message: fmt.Sprintf("Full sync completed with %d emails", result.EmailsCount),
	}, result
}
