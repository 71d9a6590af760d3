package models

import "time"

// Worktree is bookkeeping for a git worktree an agent runs against.
// Git mechanics (creation, branch management) happen outside the core;
// the orchestrator only needs a stable path to bind instances to.
type Worktree struct {
	ID        string `gorm:"primaryKey;size:32"`
	RepoName  string `gorm:"size:128"`
	Path      string `gorm:"size:512;not null"`
	Branch    string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
