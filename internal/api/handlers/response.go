package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/creativable/mailsync/internal/api/middleware"
	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
)

// Error codes used in the response envelope
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeAuthFailed    = "AUTH_FAILED"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUpstream      = "IMAP_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
	CodeNotConfigured = "ACCOUNT_NOT_CONFIGURED"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func respondValidation(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    CodeValidation,
			"message": "Invalid request body",
			"details": err.Error(),
		},
	})
}

// currentUser aborts with 401 when the JWT middleware did not run
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, "User not authenticated")
		return 0, false
	}
	return userID, true
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid id")
		return 0, false
	}
	return uint(id), true
}

// respondServiceError maps the service error taxonomy to HTTP statuses
func respondServiceError(c *gin.Context, err error) {
	var connErr *services.ConnectionError
	var opErr *services.OperationError
	var fetchErr *services.FetchError

	switch {
	case errors.Is(err, services.ErrAccountNotFound):
		respondError(c, http.StatusNotFound, CodeNotConfigured, "IMAP settings are not configured")
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrEmailNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, services.ErrSyncAlreadyRunning):
		respondError(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, services.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, CodeRateLimited, err.Error())
	case errors.Is(err, services.ErrInvalidFolderName), errors.Is(err, services.ErrProtectedFolder),
		errors.Is(err, services.ErrInvalidAccountData):
		respondError(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.As(err, &connErr), errors.As(err, &opErr), errors.As(err, &fetchErr):
		respondError(c, http.StatusBadGateway, CodeUpstream, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
