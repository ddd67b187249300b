package services

import (
	"errors"

	"github.com/creativable/mailsync/internal/database/models"
	"gorm.io/gorm"
)

// ErrEmailNotFound indicates the email was not found
var ErrEmailNotFound = errors.New("email not found")

// EmailService serves ingested emails to collaborators.
// Only the read and starred flags are mutable after ingestion.
type EmailService struct {
	db *gorm.DB
}

// NewEmailService creates a new EmailService instance
func NewEmailService(db *gorm.DB) *EmailService {
	return &EmailService{db: db}
}

// EmailListOptions represents options for listing emails
type EmailListOptions struct {
	Folder     string
	Search     string
	UnreadOnly bool
	Page       int
	Limit      int
}

// EmailListResult represents the result of listing emails
type EmailListResult struct {
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Emails []models.Email `json:"emails"`
}

// FolderCount is the per-folder tally shown next to the folder tree
type FolderCount struct {
	Folder string `json:"folder"`
	Total  int64  `json:"total"`
	Unread int64  `json:"unread"`
}

// ListEmails lists emails newest first with pagination and filtering
func (s *EmailService) ListEmails(userID uint, opts EmailListOptions) (*EmailListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	query := s.db.Model(&models.Email{}).Where("user_id = ?", userID)
	if opts.Folder != "" && opts.Folder != "all" {
		query = query.Where("folder = ?", opts.Folder)
	}
	if opts.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if opts.Search != "" {
		pattern := "%" + opts.Search + "%"
		query = query.Where("subject LIKE ? OR from_addr LIKE ? OR body LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var emails []models.Email
	offset := (opts.Page - 1) * opts.Limit
	if err := query.Order("sent_at DESC, id DESC").Offset(offset).Limit(opts.Limit).Find(&emails).Error; err != nil {
		return nil, err
	}

	return &EmailListResult{
		Total:  total,
		Page:   opts.Page,
		Limit:  opts.Limit,
		Emails: emails,
	}, nil
}

// GetEmail retrieves an email owned by userID
func (s *EmailService) GetEmail(id, userID uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// SetRead sets the read flag
func (s *EmailService) SetRead(id, userID uint, read bool) error {
	return s.setFlag(id, userID, "is_read", read)
}

// SetStarred sets the starred flag
func (s *EmailService) SetStarred(id, userID uint, starred bool) error {
	return s.setFlag(id, userID, "is_starred", starred)
}

func (s *EmailService) setFlag(id, userID uint, column string, value bool) error {
	res := s.db.Model(&models.Email{}).Where("id = ? AND user_id = ?", id, userID).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either missing or already at value; tell them apart
		if _, err := s.GetEmail(id, userID); err != nil {
			return err
		}
	}
	return nil
}

// FolderCounts returns total and unread counts per folder
func (s *EmailService) FolderCounts(userID uint) ([]FolderCount, error) {
	var counts []FolderCount
	err := s.db.Model(&models.Email{}).
		Select("folder, COUNT(*) AS total, SUM(CASE WHEN is_read THEN 0 ELSE 1 END) AS unread").
		Where("user_id = ?", userID).
		Group("folder").
		Order("folder").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
