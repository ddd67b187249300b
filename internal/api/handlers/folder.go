package handlers

import (
	"errors"
	"net/http"

	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
)

// Folder actions accepted by POST /api/folders
const (
	FolderActionCreate = "create"
	FolderActionDelete = "delete"
	FolderActionRename = "rename"
)

// FolderHandler serves the folder catalog and mailbox lifecycle
type FolderHandler struct {
	catalog *services.FolderCatalog
	folders *services.FolderService
}

// NewFolderHandler creates a new FolderHandler instance
func NewFolderHandler(catalog *services.FolderCatalog, folders *services.FolderService) *FolderHandler {
	return &FolderHandler{catalog: catalog, folders: folders}
}

// FolderActionRequest is the body of POST /api/folders
type FolderActionRequest struct {
	Action     string `json:"action" binding:"required,oneof=create delete rename"`
	FolderName string `json:"folderName"`
	FolderPath string `json:"folderPath"`
	NewName    string `json:"newName"`
}

// CatalogSyncRequest is the body of POST /api/folders/sync
type CatalogSyncRequest struct {
	ForceRefresh bool `json:"force_refresh"`
}

// ListFolders returns the mirrored folders, INBOX first
// GET /api/folders
func (h *FolderHandler) ListFolders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	folders, err := h.catalog.ListFolders(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, folders)
}

// FolderAction creates, deletes or renames a mailbox on the server
// POST /api/folders
func (h *FolderHandler) FolderAction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req FolderActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	ctx := c.Request.Context()
	var (
		err     error
		message string
	)
	switch req.Action {
	case FolderActionCreate:
		err = h.folders.Create(ctx, userID, req.FolderName)
		message = "Folder created"
	case FolderActionDelete:
		err = h.folders.Delete(ctx, userID, req.FolderPath)
		message = "Folder deleted"
	case FolderActionRename:
		var target string
		target, err = h.folders.Rename(ctx, userID, req.FolderPath, req.NewName)
		message = "Folder renamed to " + target
	}

	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, services.ErrInvalidFolderName) || errors.Is(err, services.ErrProtectedFolder) {
			status = http.StatusBadRequest
		} else if errors.Is(err, services.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
	})
}

// SyncCatalog mirrors the server's folder list; a cooldown applies unless forced
// POST /api/folders/sync
func (h *FolderHandler) SyncCatalog(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req CatalogSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}
	}

	result, err := h.catalog.Sync(c.Request.Context(), userID, req.ForceRefresh)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}

// Reconcile removes duplicate folder rows
// POST /api/folders/reconcile
func (h *FolderHandler) Reconcile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	result, err := h.catalog.Reconcile(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}
