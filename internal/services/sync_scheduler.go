package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"go.uber.org/zap"
)

// SyncScheduler handles automatic email synchronization
type SyncScheduler struct {
	accounts     *AccountService
	orchestrator *SyncOrchestrator
	logService   *LogService
	log          *zap.Logger
	interval     time.Duration
	firstDelay   time.Duration
	maxRetries   int
	stopChan     chan struct{}
	running      bool
	mu           sync.Mutex
	syncing      sync.Mutex // 防止同步周期重叠
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(accounts *AccountService, orchestrator *SyncOrchestrator, logService *LogService, log *zap.Logger, interval time.Duration) *SyncScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncScheduler{
		accounts:     accounts,
		orchestrator: orchestrator,
		logService:   logService,
		log:          log.Named("scheduler"),
		interval:     interval,
		firstDelay:   10 * time.Second,
		maxRetries:   2,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the automatic sync process
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.running || s.interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("starting", zap.Duration("interval", s.interval))

	go func() {
		// 启动后等待一段时间再执行第一次同步，让服务完全就绪
		select {
		case <-time.After(s.firstDelay):
			s.RunOnce()
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-s.stopChan:
				s.log.Info("stopping")
				return
			}
		}
	}()
}

// Stop stops the automatic sync process
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopChan)
	s.running = false
}

// RunOnce syncs every enabled account concurrently; a cycle still in progress makes it a no-op
func (s *SyncScheduler) RunOnce() {
	if !s.syncing.TryLock() {
		s.log.Info("previous cycle still running, skipping")
		return
	}
	defer s.syncing.Unlock()

	accounts, err := s.accounts.ListEnabledAccounts()
	if err != nil {
		s.log.Error("failed to load accounts", zap.Error(err))
		return
	}
	if len(accounts) == 0 {
		return
	}

	// 并发同步所有账户，每个账户独立，互不阻塞
	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(acc models.EmailAccount) {
			defer wg.Done()
			s.syncOneAccount(acc)
		}(account)
	}
	wg.Wait()

	s.log.Info("cycle completed", zap.Int("accounts", len(accounts)))
}

// syncOneAccount 同步单个账户；连接重试在一次调度内完成，避免撞上拉取限流窗口
func (s *SyncScheduler) syncOneAccount(account models.EmailAccount) {
	result, err := s.orchestrator.Sync(context.Background(), account.UserID, SyncOptions{MaxRetries: s.maxRetries})
	switch {
	case err == nil:
		if result.NewCount > 0 {
			s.logService.LogInfo(account.UserID, models.LogModuleSync, "auto_sync", "Auto sync completed", map[string]interface{}{
				"folder":    account.Folder,
				"new_count": result.NewCount,
			})
		}
	case errors.Is(err, ErrSyncAlreadyRunning), errors.Is(err, ErrRateLimited):
		// A manual run is in flight or just finished
		s.log.Debug("account skipped", zap.Uint("user_id", account.UserID), zap.Error(err))
	default:
		s.log.Warn("auto sync failed", zap.Uint("user_id", account.UserID), zap.Error(err))
		s.logService.LogWarn(account.UserID, models.LogModuleSync, "auto_sync", "Auto sync failed", map[string]interface{}{
			"error":   err.Error(),
			"retries": s.maxRetries,
		})
	}
}
