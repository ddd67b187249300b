package models

import (
	"time"
)

// SyncStatus is the lifecycle state of a sync run
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusSucceeded SyncStatus = "succeeded"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncState is the persisted view of the latest sync run for a (user, folder) key
type SyncState struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"uniqueIndex:idx_sync_states_user_folder,priority:1;not null" json:"user_id"`
	Folder      string     `gorm:"uniqueIndex:idx_sync_states_user_folder,priority:2;size:255;not null" json:"folder"`
	RunID       string     `gorm:"size:36" json:"run_id"`
	State       SyncStatus `gorm:"size:20;default:'idle'" json:"state"`
	Progress    int        `gorm:"default:0" json:"progress"`
	EmailsCount int        `gorm:"default:0" json:"emails_count"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
