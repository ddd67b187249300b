package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/creativable/mailsync/internal/services"
	"github.com/gin-gonic/gin"
)

// EmailHandler serves the ingested email rows
type EmailHandler struct {
	emailService *services.EmailService
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(emailService *services.EmailService) *EmailHandler {
	return &EmailHandler{emailService: emailService}
}

// EmailResponse represents an email in API responses
type EmailResponse struct {
	ID             uint     `json:"id"`
	Folder         string   `json:"folder"`
	MessageID      string   `json:"message_id"`
	Subject        string   `json:"subject"`
	From           string   `json:"from"`
	To             []string `json:"to"`
	TextBody       string   `json:"text_body,omitempty"`
	HTMLBody       string   `json:"html_body,omitempty"`
	Date           int64    `json:"date"`
	IsRead         bool     `json:"is_read"`
	IsStarred      bool     `json:"is_starred"`
	HasAttachments bool     `json:"has_attachments"`
}

// FlagRequest sets a boolean flag; a missing value means true
type FlagRequest struct {
	Value *bool `json:"value"`
}

func toEmailResponse(email *models.Email, withBody bool) EmailResponse {
	var to []string
	if email.ToAddrs != "" {
		json.Unmarshal([]byte(email.ToAddrs), &to)
	}
	response := EmailResponse{
		ID:             email.ID,
		Folder:         email.Folder,
		MessageID:      email.MessageID,
		Subject:        email.Subject,
		From:           email.FromAddr,
		To:             to,
		Date:           email.SentAt.Unix(),
		IsRead:         email.IsRead,
		IsStarred:      email.IsStarred,
		HasAttachments: email.HasAttachments,
	}
	if withBody {
		response.TextBody = email.Body
		response.HTMLBody = email.HTMLBody
	}
	return response
}

// ListEmails returns a page of emails, newest first
// GET /api/emails?folder=&page=&limit=&search=&unread=
func (h *EmailHandler) ListEmails(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))

	result, err := h.emailService.ListEmails(userID, services.EmailListOptions{
		Folder:     c.Query("folder"),
		Search:     c.Query("search"),
		UnreadOnly: unreadOnly,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	emails := make([]EmailResponse, 0, len(result.Emails))
	for i := range result.Emails {
		emails = append(emails, toEmailResponse(&result.Emails[i], false))
	}
	respondOK(c, gin.H{
		"total":  result.Total,
		"page":   result.Page,
		"limit":  result.Limit,
		"emails": emails,
	})
}

// GetEmail returns one email with its bodies
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	email, err := h.emailService.GetEmail(id, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toEmailResponse(email, true))
}

// MarkAsRead sets the read flag
// PUT /api/emails/:id/read
func (h *EmailHandler) MarkAsRead(c *gin.Context) {
	h.setFlag(c, h.emailService.SetRead)
}

// SetStarred sets the starred flag
// PUT /api/emails/:id/star
func (h *EmailHandler) SetStarred(c *gin.Context) {
	h.setFlag(c, h.emailService.SetStarred)
}

func (h *EmailHandler) setFlag(c *gin.Context, set func(id, userID uint, value bool) error) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req FlagRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}
	}
	value := req.Value == nil || *req.Value

	if err := set(id, userID, value); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"id": id, "value": value},
	})
}

// FolderCounts returns total and unread counts per folder
// GET /api/emails/counts
func (h *EmailHandler) FolderCounts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	counts, err := h.emailService.FolderCounts(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, counts)
}
