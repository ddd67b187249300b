package api

import (
	"time"

	"github.com/creativable/mailsync/internal/config"
	"github.com/creativable/mailsync/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Coordination holds the throttle gate and run latch; both are in process
// unless Redis is configured
type Coordination struct {
	Gate  services.ThrottleGate
	Latch services.Latch
}

// LocalCoordination keeps latches and throttle windows in this process
func LocalCoordination() Coordination {
	return Coordination{Gate: services.NewMemoryGate(), Latch: services.NewMemoryLatch()}
}

// Services is the wired service graph shared by the HTTP API, the CLI and the scheduler
type Services struct {
	Logs         *services.LogService
	Users        *services.UserService
	Accounts     *services.AccountService
	Emails       *services.EmailService
	Negotiator   *services.Negotiator
	Fetcher      *services.FetchService
	Ingest       *services.IngestService
	Progress     *services.ProgressBroadcaster
	Orchestrator *services.SyncOrchestrator
	Catalog      *services.FolderCatalog
	Folders      *services.FolderService
	Repair       *services.RepairService
	Scheduler    *services.SyncScheduler
}

// NewServices wires every service from cfg. Folder changes refresh the
// catalog in process until a broker notifier replaces it via Folders.SetNotifier.
func NewServices(db *gorm.DB, cfg *config.Config, coord Coordination, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	logs := services.NewLogService(db, log.Named("audit"))
	logs.SetLogLevel(cfg.LogLevel)

	accounts := services.NewAccountService(db, cfg.GetEncryptionKey(), logs)
	negotiator := services.NewNegotiator(log.Named("imap"))
	fetcher := services.NewFetchService(negotiator, coord.Gate, cfg.ThrottleWindow, cfg.OfflineFallback, log.Named("fetch"))
	ingest := services.NewIngestService(db, logs, log.Named("ingest"))
	ingest.SetBatching(cfg.IngestBatchSize, cfg.IngestBatchPause)
	progress := services.NewProgressBroadcaster(cfg.ProgressCeiling)

	// The self-heal follow-up must land after the throttle window closes
	healDelay := cfg.ThrottleWindow + 5*time.Second
	orchestrator := services.NewSyncOrchestrator(db, accounts, fetcher, ingest, progress, coord.Latch, logs, log.Named("sync"), healDelay)

	catalog := services.NewFolderCatalog(db, negotiator, accounts, coord.Gate, coord.Latch, cfg.CatalogCooldown, logs, log.Named("catalog"))
	orchestrator.SetCatalog(catalog)
	folders := services.NewFolderService(negotiator, accounts, services.NewLocalCatalogNotifier(catalog, log.Named("catalog")), logs, log.Named("folders"))
	repair := services.NewRepairService(db, accounts, negotiator, orchestrator, coord.Gate, logs, log.Named("repair"))
	scheduler := services.NewSyncScheduler(accounts, orchestrator, logs, log.Named("scheduler"), cfg.SyncInterval)

	return &Services{
		Logs:         logs,
		Users:        services.NewUserService(db),
		Accounts:     accounts,
		Emails:       services.NewEmailService(db),
		Negotiator:   negotiator,
		Fetcher:      fetcher,
		Ingest:       ingest,
		Progress:     progress,
		Orchestrator: orchestrator,
		Catalog:      catalog,
		Folders:      folders,
		Repair:       repair,
		Scheduler:    scheduler,
	}
}
