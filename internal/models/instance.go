package models

import "time"

// AgentInstance status constants.
const (
	InstanceStarting = "starting"
	InstanceRunning  = "running"
	InstanceStopped  = "stopped"
	InstanceError    = "error"
)

// AgentInstance is one spawned agent process bound to a working directory.
// The process handle itself lives only in the supervisor; this row records
// durable status and survives process restarts for inspection.
type AgentInstance struct {
	ID         string `gorm:"primaryKey;size:32"`
	SessionID  string `gorm:"size:32;index"`
	WorktreeID string `gorm:"size:32;index"`
	Kind       string `gorm:"size:16;not null"`
	Status     string `gorm:"size:16;default:starting;index"`
	PID        int    `gorm:"column:pid"`
	ErrorMsg   string `gorm:"type:text"`

	InputTokens  int64
	OutputTokens int64
	CostUSD      float64

	LastActivity time.Time `gorm:"index"`
	StartedAt    time.Time
	StoppedAt    *time.Time
}
