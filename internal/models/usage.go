package models

import "time"

// UsageSample is one best-effort metering probe result for an instance.
// Samples feed reporting only; agent correctness never depends on them.
type UsageSample struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	InstanceID string `gorm:"size:32;index:idx_instance_sampled"`
	SessionID  string `gorm:"size:32;index"`
	Model      string `gorm:"size:64"`

	InputTokens  int64
	OutputTokens int64
	CostUSD      float64

	SampledAt time.Time `gorm:"index:idx_instance_sampled"`
}
