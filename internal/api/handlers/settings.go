package handlers

import (
	"net/http"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
)

// SettingsHandler serves the per-user IMAP settings
type SettingsHandler struct {
	accountService *services.AccountService
	negotiator     *services.Negotiator
}

// NewSettingsHandler creates a new SettingsHandler instance
func NewSettingsHandler(accountService *services.AccountService, negotiator *services.Negotiator) *SettingsHandler {
	return &SettingsHandler{
		accountService: accountService,
		negotiator:     negotiator,
	}
}

// IMAPSettingsRequest is a partial update; omitted fields keep their stored value
type IMAPSettingsRequest struct {
	Email              string `json:"email"`
	IMAPHost           string `json:"imap_host"`
	IMAPPort           int    `json:"imap_port" binding:"omitempty,min=1,max=65535"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	UseSSL             *bool  `json:"use_ssl"`
	Folder             string `json:"folder"`
	ConnectTimeoutSec  int    `json:"connect_timeout_sec" binding:"omitempty,min=1"`
	GreetingTimeoutSec int    `json:"greeting_timeout_sec" binding:"omitempty,min=1"`
	SocketTimeoutSec   int    `json:"socket_timeout_sec" binding:"omitempty,min=1"`
	MaxEmails          int    `json:"max_emails" binding:"omitempty,min=1"`
	HistoricalSync     *bool  `json:"historical_sync"`
	ProgressiveLoading *bool  `json:"progressive_loading"`
	Enabled            *bool  `json:"enabled"`
}

func (r IMAPSettingsRequest) toInput() services.SettingsInput {
	return services.SettingsInput{
		Email:              r.Email,
		IMAPHost:           r.IMAPHost,
		IMAPPort:           r.IMAPPort,
		Username:           r.Username,
		Password:           r.Password,
		UseSSL:             r.UseSSL,
		Folder:             r.Folder,
		ConnectTimeoutSec:  r.ConnectTimeoutSec,
		GreetingTimeoutSec: r.GreetingTimeoutSec,
		SocketTimeoutSec:   r.SocketTimeoutSec,
		MaxEmails:          r.MaxEmails,
		HistoricalSync:     r.HistoricalSync,
		ProgressiveLoading: r.ProgressiveLoading,
		Enabled:            r.Enabled,
	}
}

// GetIMAPSettings returns the stored settings without the password
// GET /api/settings/imap
func (h *SettingsHandler) GetIMAPSettings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	account, err := h.accountService.GetAccount(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, account)
}

// UpdateIMAPSettings creates or updates the settings
// PUT /api/settings/imap
func (h *SettingsHandler) UpdateIMAPSettings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req IMAPSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	account, err := h.accountService.SaveSettings(userID, req.toInput())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, account)
}

// TestIMAPSettings probes the server. A body with host, username and password
// is tested as given without saving; an empty body tests the stored settings.
// POST /api/settings/imap/test
func (h *SettingsHandler) TestIMAPSettings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req IMAPSettingsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}
	}

	var settings services.ConnectionSettings
	if req.IMAPHost != "" && req.Username != "" && req.Password != "" {
		settings = directSettings(userID, req)
	} else {
		stored, err := h.accountService.ConnectionSettings(userID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		settings = stored
	}

	result := h.negotiator.Probe(c.Request.Context(), settings)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"success": result.Success,
		"data":    result,
	})
}

func directSettings(userID uint, req IMAPSettingsRequest) services.ConnectionSettings {
	useTLS := true
	if req.UseSSL != nil {
		useTLS = *req.UseSSL
	}
	port := req.IMAPPort
	if port == 0 {
		port = models.DefaultPlainPort
		if useTLS {
			port = models.DefaultTLSPort
		}
	}
	seconds := func(v, fallback int) time.Duration {
		if v <= 0 {
			v = fallback
		}
		return time.Duration(v) * time.Second
	}
	return services.ConnectionSettings{
		UserID:          userID,
		Host:            req.IMAPHost,
		Port:            port,
		UseTLS:          useTLS,
		Username:        req.Username,
		Password:        req.Password,
		ConnectTimeout:  seconds(req.ConnectTimeoutSec, models.DefaultConnectTimeoutSec),
		GreetingTimeout: seconds(req.GreetingTimeoutSec, models.DefaultGreetingTimeoutSec),
		SocketTimeout:   seconds(req.SocketTimeoutSec, models.DefaultSocketTimeoutSec),
	}
}
