package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncHandler triggers syncs and exposes their state and progress
type SyncHandler struct {
	orchestrator *services.SyncOrchestrator
	progress     *services.ProgressBroadcaster
	repair       *services.RepairService
	log          *zap.Logger
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(orchestrator *services.SyncOrchestrator, progress *services.ProgressBroadcaster, repair *services.RepairService, log *zap.Logger) *SyncHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncHandler{
		orchestrator: orchestrator,
		progress:     progress,
		repair:       repair,
		log:          log,
	}
}

// SyncTimeoutsRequest carries per-run timeouts in seconds
type SyncTimeoutsRequest struct {
	Connect  int `json:"connect" binding:"omitempty,min=1"`
	Greeting int `json:"greeting" binding:"omitempty,min=1"`
	Socket   int `json:"socket" binding:"omitempty,min=1"`
}

// SyncRequest is the body of POST /api/sync; every field is optional
type SyncRequest struct {
	ForceRefresh       bool                 `json:"force_refresh"`
	Folder             string               `json:"folder"`
	MaxEmails          int                  `json:"max_emails" binding:"omitempty,min=1"`
	BatchSize          int                  `json:"batch_size" binding:"omitempty,min=1,max=1000"`
	Timeouts           *SyncTimeoutsRequest `json:"timeouts"`
	HistoricalSync     *bool                `json:"historical_sync"`
	ProgressiveLoading *bool                `json:"progressive_loading"`
}

func (r SyncRequest) toOptions() services.SyncOptions {
	opts := services.SyncOptions{
		Folder:             r.Folder,
		ForceRefresh:       r.ForceRefresh,
		MaxEmails:          r.MaxEmails,
		BatchSize:          r.BatchSize,
		HistoricalSync:     r.HistoricalSync,
		ProgressiveLoading: r.ProgressiveLoading,
	}
	if r.Timeouts != nil {
		opts.Timeouts = &services.SyncTimeouts{
			Connect:  time.Duration(r.Timeouts.Connect) * time.Second,
			Greeting: time.Duration(r.Timeouts.Greeting) * time.Second,
			Socket:   time.Duration(r.Timeouts.Socket) * time.Second,
		}
	}
	return opts
}

// Sync runs one sync and answers with its outcome
// POST /api/sync
func (h *SyncHandler) Sync(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}
	}

	// A client that disconnects mid-run must not fail the sync
	result, err := h.orchestrator.Sync(context.WithoutCancel(c.Request.Context()), userID, req.toOptions())
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, services.ErrSyncAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, services.ErrRateLimited):
			status = http.StatusTooManyRequests
		case errors.Is(err, services.ErrAccountNotFound):
			status = http.StatusNotFound
		}
		if status == http.StatusBadGateway {
			h.log.Warn("sync failed", zap.Uint("user_id", userID), zap.String("folder", req.Folder), zap.Error(err))
		}
		c.JSON(status, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Status returns the latest run state of a folder
// GET /api/sync/status?folder=
func (h *SyncHandler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	folder, err := h.orchestrator.ResolveFolder(userID, c.Query("folder"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	state, err := h.orchestrator.Status(userID, folder)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, state)
}

// Progress streams progress events as server-sent events until the
// subscription ends; the last event is "close" with the cause.
// GET /api/sync/progress?folder=
func (h *SyncHandler) Progress(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	folder, err := h.orchestrator.ResolveFolder(userID, c.Query("folder"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	sub := h.progress.Subscribe(c.Request.Context(), userID, folder)
	defer sub.Cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		ev, open := <-sub.Events()
		if !open {
			c.SSEvent("close", gin.H{"cause": sub.Cause().String()})
			return false
		}
		c.SSEvent("progress", ev)
		return true
	})
}

// Reset wipes synced data and runs a fresh sync
// POST /api/sync/reset
func (h *SyncHandler) Reset(c *gin.Context) {
	h.runRepair(c, h.repair.Reset)
}

// Repair is Reset plus a switch to plain IMAP with doubled timeouts
// POST /api/sync/repair
func (h *SyncHandler) Repair(c *gin.Context) {
	h.runRepair(c, h.repair.Repair)
}

func (h *SyncHandler) runRepair(c *gin.Context, run func(context.Context, uint) (*services.RepairReport, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	// Reset deletes before it resyncs, so it runs to completion once started
	report, err := run(context.WithoutCancel(c.Request.Context()), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": report.Success(),
		"data":    report,
	})
}
