package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/creativable/mailsync/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const errRunInterrupted = "sync interrupted before completion"

// maxSelfHealAttempts bounds automatic follow-up runs after an empty inbox sync
const maxSelfHealAttempts = 1

// SyncTimeouts overrides the account's timeouts for one run
type SyncTimeouts struct {
	Connect  time.Duration
	Greeting time.Duration
	Socket   time.Duration
}

// SyncOptions parameterises one sync run; zero values fall back to the account settings
type SyncOptions struct {
	Folder             string
	ForceRefresh       bool
	MaxEmails          int
	BatchSize          int
	Timeouts           *SyncTimeouts
	HistoricalSync     *bool
	ProgressiveLoading *bool
	MaxRetries         int
}

// SyncResult is what callers of a sync receive
type SyncResult struct {
	Success     bool   `json:"success"`
	EmailsCount int    `json:"emailsCount"`
	NewCount    int    `json:"newCount"`
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	Synthetic   bool   `json:"synthetic,omitempty"`
	RunID       string `json:"runId,omitempty"`
}

// SyncOrchestrator runs at most one sync per user and folder and records its state
type SyncOrchestrator struct {
	db         *gorm.DB
	accounts   *AccountService
	fetcher    *FetchService
	ingest     *IngestService
	progress   *ProgressBroadcaster
	latch      Latch
	catalog    *FolderCatalog
	logService *LogService
	log        *zap.Logger

	healDelay    time.Duration
	healAttempts sync.Map // sync key -> *atomic.Int32
}

// NewSyncOrchestrator creates an orchestrator; healDelay should exceed the fetch throttle window
func NewSyncOrchestrator(db *gorm.DB, accounts *AccountService, fetcher *FetchService, ingest *IngestService, progress *ProgressBroadcaster, latch Latch, logService *LogService, log *zap.Logger, healDelay time.Duration) *SyncOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncOrchestrator{
		db:         db,
		accounts:   accounts,
		fetcher:    fetcher,
		ingest:     ingest,
		progress:   progress,
		latch:      latch,
		logService: logService,
		log:        log,
		healDelay:  healDelay,
	}
}

// SetCatalog enables the folder catalog refresh that follows a forced run
func (o *SyncOrchestrator) SetCatalog(catalog *FolderCatalog) {
	o.catalog = catalog
}

// ResolveFolder returns the folder a sync with the given override would use
func (o *SyncOrchestrator) ResolveFolder(userID uint, folder string) (string, error) {
	if folder != "" {
		return folder, nil
	}
	account, err := o.accounts.GetAccount(userID)
	if err != nil {
		return "", err
	}
	return folderOrDefault(account.Folder, models.FolderInbox), nil
}

// Sync runs one sync. A concurrent run for the same folder yields ErrSyncAlreadyRunning
// and a throttled one yields ErrRateLimited, both before any state is written or published.
func (o *SyncOrchestrator) Sync(ctx context.Context, userID uint, opts SyncOptions) (*SyncResult, error) {
	start := time.Now()
	account, err := o.accounts.GetAccount(userID)
	if err != nil {
		return nil, err
	}
	folder := folderOrDefault(opts.Folder, account.Folder)

	key := syncKey(userID, folder)
	acquired, err := o.latch.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		metrics.RecordSyncRun("already_running", time.Since(start))
		return nil, ErrSyncAlreadyRunning
	}
	defer o.latch.Release(context.Background(), key)

	return o.run(ctx, account, folder, opts, start)
}

// RunLocked runs a sync for a caller that already holds the folder latch
func (o *SyncOrchestrator) RunLocked(ctx context.Context, userID uint, opts SyncOptions) (*SyncResult, error) {
	account, err := o.accounts.GetAccount(userID)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, account, folderOrDefault(opts.Folder, account.Folder), opts, time.Now())
}

// Latch exposes the run latch so callers can serialise other work against syncs
func (o *SyncOrchestrator) Latch() Latch {
	return o.latch
}

// Status returns the persisted state of the latest run, nil when none exists.
// A running row whose latch is no longer held belongs to a run that died
// with its process and is reported as failed.
func (o *SyncOrchestrator) Status(userID uint, folder string) (*models.SyncState, error) {
	state, found, err := o.loadState(userID, folder)
	if err != nil || !found {
		return nil, err
	}
	if state.State == models.SyncStatusRunning {
		held, err := o.latch.Held(context.Background(), syncKey(userID, folder))
		if err == nil && !held {
			state.State = models.SyncStatusFailed
			state.LastError = errRunInterrupted
		}
	}
	return state, nil
}

func (o *SyncOrchestrator) run(ctx context.Context, account *models.EmailAccount, folder string, opts SyncOptions, start time.Time) (*SyncResult, error) {
	userID := account.UserID
	settings, err := o.accounts.ToConnectionSettings(account)
	if err != nil {
		return nil, err
	}
	applyOverrides(&settings, folder, opts)

	if err := o.fetcher.Admit(ctx, userID, folder); err != nil {
		metrics.RecordSyncRun("rate_limited", time.Since(start))
		return nil, err
	}

	prior, hadPrior, err := o.loadState(userID, folder)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	state := &models.SyncState{UserID: userID, Folder: folder}
	if hadPrior {
		copied := *prior
		state = &copied
	}
	state.RunID = runID
	state.State = models.SyncStatusRunning
	state.Progress = 0
	state.EmailsCount = 0
	state.LastError = ""
	state.StartedAt = start
	state.FinishedAt = time.Time{}
	if err := o.db.Save(state).Error; err != nil {
		return nil, err
	}
	o.progress.Publish(userID, folder, ProgressEvent{RunID: runID, Progress: 0, Message: "sync started"})

	maxEmails := opts.MaxEmails
	if maxEmails <= 0 && !settings.HistoricalSync {
		maxEmails = settings.MaxEmails
	}

	var fetched, inserted, expected int
	synthetic := false
	err = o.fetcher.Stream(ctx, settings, StreamRequest{
		UserID:     userID,
		Folder:     folder,
		PageSize:   opts.BatchSize,
		MaxEmails:  maxEmails,
		MaxRetries: opts.MaxRetries,
		Admitted:   true,
	}, func(page *Page) (bool, error) {
		res, err := o.ingest.Save(ctx, userID, page.Emails, folder)
		if err != nil {
			return false, err
		}
		fetched += len(page.Emails)
		inserted += res.Inserted
		synthetic = synthetic || page.Synthetic
		if expected == 0 {
			expected = page.Total
			if maxEmails > 0 && maxEmails < expected {
				expected = maxEmails
			}
		}

		state.Progress = pageProgress(fetched, expected)
		state.EmailsCount = fetched
		if err := o.db.Model(state).Updates(map[string]interface{}{"progress": state.Progress, "emails_count": fetched}).Error; err != nil {
			o.log.Warn("sync progress not persisted", zap.String("run_id", runID), zap.Error(err))
		}
		if settings.ProgressiveLoading {
			o.progress.Publish(userID, folder, ProgressEvent{RunID: runID, Progress: state.Progress, EmailsCount: fetched, Synthetic: page.Synthetic})
		}
		return true, nil
	})

	details := SyncRunDetails{RunID: runID, EmailsCount: fetched, Inserted: inserted, Synthetic: synthetic, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		state.State = models.SyncStatusFailed
		state.LastError = err.Error()
		state.FinishedAt = time.Now()
		if saveErr := o.db.Save(state).Error; saveErr != nil {
			o.log.Error("sync state not persisted", zap.String("run_id", runID), zap.Error(saveErr))
		}
		o.progress.Publish(userID, folder, ProgressEvent{RunID: runID, Progress: state.Progress, EmailsCount: fetched, Error: err.Error()})
		o.logService.LogSyncRun(userID, folder, details, err)
		metrics.RecordSyncRun("failed", time.Since(start))
		return &SyncResult{
			Success:     false,
			EmailsCount: fetched,
			NewCount:    inserted,
			Progress:    state.Progress,
			Message:     err.Error(),
			RunID:       runID,
		}, err
	}

	state.State = models.SyncStatusSucceeded
	state.Progress = 100
	state.EmailsCount = fetched
	state.FinishedAt = time.Now()
	if err := o.db.Save(state).Error; err != nil {
		o.log.Error("sync state not persisted", zap.String("run_id", runID), zap.Error(err))
	}
	if err := o.accounts.MarkSynced(userID, state.FinishedAt); err != nil {
		o.log.Warn("last_sync_at not updated", zap.Uint("user_id", userID), zap.Error(err))
	}
	o.progress.Publish(userID, folder, ProgressEvent{RunID: runID, Progress: 100, EmailsCount: fetched, Message: "sync completed", Synthetic: synthetic})
	o.logService.LogSyncRun(userID, folder, details, nil)
	metrics.RecordSyncRun("succeeded", time.Since(start))

	if opts.ForceRefresh && o.catalog != nil {
		go func() {
			if _, err := o.catalog.Sync(context.Background(), userID, true); err != nil {
				o.log.Warn("catalog refresh after forced sync failed", zap.Uint("user_id", userID), zap.Error(err))
			}
		}()
	}
	o.considerSelfHeal(userID, folder, fetched, opts)

	return &SyncResult{
		Success:     true,
		EmailsCount: fetched,
		NewCount:    inserted,
		Progress:    100,
		Synthetic:   synthetic,
		RunID:       runID,
	}, nil
}

// considerSelfHeal schedules one forced follow-up when an inbox run came back empty
func (o *SyncOrchestrator) considerSelfHeal(userID uint, folder string, fetched int, opts SyncOptions) {
	if !strings.EqualFold(folder, models.FolderInbox) {
		return
	}
	v, _ := o.healAttempts.LoadOrStore(syncKey(userID, folder), atomic.NewInt32(0))
	counter := v.(*atomic.Int32)
	if fetched > 0 {
		counter.Store(0)
		return
	}
	if counter.Inc() > maxSelfHealAttempts {
		return
	}

	o.log.Info("inbox sync returned no messages, scheduling one follow-up",
		zap.Uint("user_id", userID), zap.Duration("delay", o.healDelay))
	followUp := opts
	followUp.ForceRefresh = true
	time.AfterFunc(o.healDelay, func() {
		if _, err := o.Sync(context.Background(), userID, followUp); err != nil {
			o.log.Warn("self-healing sync failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	})
}

// ResetSelfHeal forgets the follow-up counters of a user
func (o *SyncOrchestrator) ResetSelfHeal(userID uint) {
	prefix := syncKey(userID, "")
	o.healAttempts.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			o.healAttempts.Delete(k)
		}
		return true
	})
}

func (o *SyncOrchestrator) loadState(userID uint, folder string) (*models.SyncState, bool, error) {
	var state models.SyncState
	err := o.db.Where("user_id = ? AND folder = ?", userID, folder).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func applyOverrides(settings *ConnectionSettings, folder string, opts SyncOptions) {
	settings.Folder = folder
	if opts.Timeouts != nil {
		if opts.Timeouts.Connect > 0 {
			settings.ConnectTimeout = opts.Timeouts.Connect
		}
		if opts.Timeouts.Greeting > 0 {
			settings.GreetingTimeout = opts.Timeouts.Greeting
		}
		if opts.Timeouts.Socket > 0 {
			settings.SocketTimeout = opts.Timeouts.Socket
		}
	}
	if opts.HistoricalSync != nil {
		settings.HistoricalSync = *opts.HistoricalSync
	}
	if opts.ProgressiveLoading != nil {
		settings.ProgressiveLoading = *opts.ProgressiveLoading
	}
}

// pageProgress maps completed emails to 0..99; 100 is reserved for success
func pageProgress(done, expected int) int {
	if expected <= 0 {
		return 99
	}
	p := done * 100 / expected
	if p > 99 {
		p = 99
	}
	return p
}
