package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/switchyard-dev/switchyard/internal/models"
	"gorm.io/gorm"
)

// usageTotals accumulates token counters. One instance lives on each
// process for deltas, one on the Supervisor for the global running total.
type usageTotals struct {
	mu           sync.Mutex
	input        int64
	output       int64
	lastInput    int64 // high-water mark of the last persisted sample
	lastOutput   int64
	model        string
}

func (t *usageTotals) add(in, out int64) {
	t.mu.Lock()
	t.input += in
	t.output += out
	t.mu.Unlock()
}

func (t *usageTotals) setModel(m string) {
	t.mu.Lock()
	t.model = m
	t.mu.Unlock()
}

// delta returns the tokens accumulated since the previous call and advances
// the high-water mark.
func (t *usageTotals) delta() (in, out int64, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	in = t.input - t.lastInput
	out = t.output - t.lastOutput
	t.lastInput = t.input
	t.lastOutput = t.output
	return in, out, t.model
}

func (t *usageTotals) snapshot() (in, out int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input, t.output
}

// Totals returns the global token counters across all instances this
// supervisor has metered.
func (s *Supervisor) Totals() (inputTokens, outputTokens int64) {
	return s.totals.snapshot()
}

// CollectUsage persists one best-effort metering sample for the instance.
// Failures never affect process health; callers log and move on.
func (s *Supervisor) CollectUsage(instanceID string) error {
	p, err := s.proc(instanceID)
	if err != nil {
		return err
	}
	return s.persistSample(p)
}

func (s *Supervisor) persistSample(p *process) error {
	in, out, model := p.usage.delta()
	if in == 0 && out == 0 {
		return nil
	}

	sample := models.UsageSample{
		InstanceID:   p.instanceID,
		SessionID:    p.sessionID,
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		SampledAt:    time.Now(),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sample).Error; err != nil {
			return err
		}
		return tx.Model(&models.AgentInstance{}).Where("id = ?", p.instanceID).
			Updates(map[string]interface{}{
				"input_tokens":  gorm.Expr("input_tokens + ?", in),
				"output_tokens": gorm.Expr("output_tokens + ?", out),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("supervisor: persist usage for %s: %w", p.instanceID, err)
	}

	s.totals.add(in, out)
	return nil
}

// startUsageCollector launches the metering loop: a short initial probe,
// then a fixed interval. The loop dies with the process context, so stopping
// an instance cancels its timer.
func (s *Supervisor) startUsageCollector(ctx context.Context, p *process) {
	go func() {
		initial := time.NewTimer(s.opts.UsageInitialDelay)
		defer initial.Stop()
		select {
		case <-ctx.Done():
			return
		case <-initial.C:
			if err := s.persistSample(p); err != nil {
				log.Printf("supervisor: usage probe %s: %v", p.instanceID, err)
			}
		}

		ticker := time.NewTicker(s.opts.UsageInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final drain so tokens seen since the last tick are not lost.
				if err := s.persistSample(p); err != nil {
					log.Printf("supervisor: final usage sample %s: %v", p.instanceID, err)
				}
				return
			case <-ticker.C:
				if err := s.persistSample(p); err != nil {
					log.Printf("supervisor: usage sample %s: %v", p.instanceID, err)
				}
			}
		}
	}()
}
