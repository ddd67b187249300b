package models

import (
	"time"
)

// FolderInbox is the primary folder every account syncs by default
const FolderInbox = "INBOX"

// Email represents a message ingested from the IMAP origin.
// (message_id, user_id) is unique; ingestion only ever inserts.
type Email struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"uniqueIndex:idx_emails_message_user,priority:2;index;not null" json:"user_id"`
	Folder         string    `gorm:"size:255;index;not null;default:'INBOX'" json:"folder"`
	MessageID      string    `gorm:"uniqueIndex:idx_emails_message_user,priority:1;size:255;not null" json:"message_id"`
	UID            uint32    `json:"uid"`
	Subject        string    `gorm:"size:500" json:"subject"`
	FromAddr       string    `gorm:"size:255" json:"from"`
	ToAddrs        string    `gorm:"type:text" json:"to"` // JSON array stored as string
	Body           string    `gorm:"type:text" json:"text_body"`
	HTMLBody       string    `gorm:"type:text" json:"html_body"`
	SentAt         time.Time `gorm:"index" json:"sent_at"`
	ReceivedAt     time.Time `json:"received_at"`
	IsRead         bool      `gorm:"default:false" json:"read"`
	IsStarred      bool      `gorm:"default:false" json:"starred"`
	HasAttachments bool      `gorm:"default:false" json:"has_attachments"`
	Flags          string    `gorm:"type:text" json:"flags"` // JSON array stored as string
	CreatedAt      time.Time `json:"created_at"`
}
