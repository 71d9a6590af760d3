package models

import "time"

// Session status constants.
const (
	SessionProvisioning = "provisioning"
	SessionStarting     = "starting"
	SessionRunning      = "running"
	SessionIdle         = "idle"
	SessionStopping     = "stopping"
	SessionStopped      = "stopped"
	SessionError        = "error"
)

// Workflow status constants. Completed is terminal.
const (
	WorkflowStarted        = "started"
	WorkflowWorking        = "working"
	WorkflowAwaitingInput  = "awaiting_input"
	WorkflowBlocked        = "blocked"
	WorkflowAwaitingReview = "awaiting_review"
	WorkflowCompleted      = "completed"
)

// Session is one logical conversation, bound to at most one active
// AgentInstance at a time. The (ClaimedBy, LeaseExpiresAt) pair models
// exclusive, time-bounded gateway ownership; LeaseExpiresAt is meaningful
// only while ClaimedBy is non-empty.
type Session struct {
	ID         string `gorm:"primaryKey;size:32"`
	Title      string `gorm:"size:256"`
	Status     string `gorm:"size:16;default:provisioning;index"`
	WorktreeID string `gorm:"size:32;index"`
	TaskRef    string `gorm:"size:128"` // opaque issue-tracker correlation id

	// NextSeq is the next event sequence number. Never decreases.
	NextSeq int64 `gorm:"not null;default:0"`

	ClaimedBy      string `gorm:"size:64;index"`
	LeaseExpiresAt *time.Time

	WorkflowStatus  string `gorm:"size:16;default:started"`
	WorkflowMessage string `gorm:"type:text"`

	// Awaiting-input sub-state. AwaitingExpiresAt is non-nil if and only if
	// WorkflowStatus == awaiting_input.
	AwaitingQuestion  string `gorm:"type:text"`
	AwaitingOptions   string `gorm:"type:json"` // JSON array of option strings
	AwaitingDefault   string `gorm:"size:256"`
	AwaitingExpiresAt *time.Time

	LastError    string `gorm:"type:text"`
	LastActivity time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Events []SessionEvent `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}
