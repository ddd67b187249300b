package models

import (
	"time"
)

// Folder is the local catalog row for a mailbox on the IMAP origin
type Folder struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"uniqueIndex:idx_folders_user_path,priority:1;not null" json:"user_id"`
	Path        string    `gorm:"uniqueIndex:idx_folders_user_path,priority:2;size:255;not null" json:"path"`
	Name        string    `gorm:"size:255" json:"name"`
	Delimiter   string    `gorm:"size:4" json:"delimiter"`
	SortOrder   int       `gorm:"default:0" json:"order"`
	UnreadCount int       `gorm:"default:0" json:"unread_count"`
	TotalCount  int       `gorm:"default:0" json:"total_count"`
	SpecialUse  string    `gorm:"size:32" json:"special_use,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
