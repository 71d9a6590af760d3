package models

import "time"

// Event directions.
const (
	DirClient = "client"
	DirAgent  = "agent"
	DirSystem = "system"
)

// Well-known event types. The column is an open string; these are the types
// the core itself emits.
const (
	EventInput        = "input"
	EventOutputChunk  = "output_chunk"
	EventMessageFinal = "message_final"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventState        = "state"
	EventError        = "error"
	EventTranscript   = "transcript"
	EventPRCreated    = "pr_created"
)

// SessionEvent is one immutable fact appended to a session's history.
// Seq is unique and strictly increasing within a session; events are never
// mutated, only cascade-deleted with their session.
type SessionEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:32;not null;uniqueIndex:idx_session_seq"`
	Seq       int64  `gorm:"not null;uniqueIndex:idx_session_seq"`
	Direction string `gorm:"size:8;not null"`
	Type      string `gorm:"size:32;not null;index"`
	Payload   string `gorm:"type:mediumtext"`
	CreatedAt time.Time
}
