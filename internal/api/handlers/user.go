package handlers

import (
	"errors"
	"net/http"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
)

// UserHandler handles user related requests
type UserHandler struct {
	userService *services.UserService
	logService  *services.LogService
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(userService *services.UserService, logService *services.LogService) *UserHandler {
	return &UserHandler{
		userService: userService,
		logService:  logService,
	}
}

// ChangePasswordRequest represents the request to change password
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// GetProfile returns the current user's profile
// GET /api/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, ToProfileResponse(user))
}

// ChangePassword changes the current user's password after checking the old one
// PUT /api/user/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if _, err := h.userService.VerifyPassword(user.Username, req.OldPassword); err != nil {
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, "Old password is incorrect")
		return
	}

	if err := h.userService.ResetPassword(userID, req.NewPassword); err != nil {
		if errors.Is(err, services.ErrPasswordTooShort) {
			respondError(c, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		respondServiceError(c, err)
		return
	}
	h.logService.LogInfo(userID, models.LogModuleUser, "change_password", "Password changed", nil)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password changed successfully",
	})
}
