package models

import (
	"time"
)

// Default IMAP ports and timeouts used when an account leaves them unset
const (
	DefaultTLSPort            = 993
	DefaultPlainPort          = 143
	DefaultConnectTimeoutSec  = 30
	DefaultGreetingTimeoutSec = 15
	DefaultSocketTimeoutSec   = 30
	DefaultMaxEmails          = 500
)

// EmailAccount holds the IMAP connection settings of a user.
// Each user owns at most one account.
type EmailAccount struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Email              string    `gorm:"size:255;not null" json:"email"`
	IMAPHost           string    `gorm:"size:255;not null" json:"imap_host"`
	IMAPPort           int       `gorm:"not null" json:"imap_port"`
	Username           string    `gorm:"size:255;not null" json:"username"`
	PasswordEncrypted  string    `gorm:"size:500;not null" json:"-"`
	UseSSL             bool      `gorm:"not null" json:"use_ssl"`
	Folder             string    `gorm:"size:255;default:'INBOX'" json:"folder"`
	ConnectTimeoutSec  int       `gorm:"default:30" json:"connect_timeout_sec"`
	GreetingTimeoutSec int       `gorm:"default:15" json:"greeting_timeout_sec"`
	SocketTimeoutSec   int       `gorm:"default:30" json:"socket_timeout_sec"`
	MaxEmails          int       `gorm:"default:500" json:"max_emails"`
	HistoricalSync     bool      `gorm:"default:false" json:"historical_sync"`
	ProgressiveLoading bool      `gorm:"not null" json:"progressive_loading"`
	Enabled            bool      `gorm:"not null" json:"enabled"`
	LastSyncAt         time.Time `json:"last_sync_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
