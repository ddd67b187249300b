package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
)

// LogHandler exposes the persisted diagnostic log of the current user
type LogHandler struct {
	logService *services.LogService
}

// NewLogHandler creates a new LogHandler instance
func NewLogHandler(logService *services.LogService) *LogHandler {
	return &LogHandler{logService: logService}
}

// QueryLogs returns the user's log rows, newest first
// GET /api/logs?level=&module=&action=&folder=&since=&page=&limit=
func (h *LogHandler) QueryLogs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit > 500 {
		limit = 500
	}
	query := services.LogQuery{
		UserID: userID,
		Level:  strings.ToUpper(c.Query("level")),
		Module: c.Query("module"),
		Action: c.Query("action"),
		Folder: c.Query("folder"),
		Page:   page,
		Limit:  limit,
	}
	// since accepts RFC 3339
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondValidation(c, err)
			return
		}
		query.StartTime = &t
	}

	result, err := h.logService.QueryLogs(query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}
