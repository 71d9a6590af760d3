// Package sequencer allocates strictly increasing per-session sequence
// numbers and persists session events. It is the only write path for
// session history.
package sequencer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Item is one pre-sequenced event for batch submission. Callers typically
// assign Seq from a block reserved via ReserveBlock.
type Item struct {
	Seq       int64
	Direction string
	Type      string
	Payload   any
}

// Append stamps a new event with the session's current next_seq, persists
// it, and advances the counter, all in one transaction. The counter advance
// takes the greater of current and proposed, so retried submissions are
// idempotent.
func Append(db *gorm.DB, sessionID, direction, eventType string, payload any) (*models.SessionEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sequencer: sessionID is required")
	}
	if direction == "" || eventType == "" {
		return nil, fmt.Errorf("sequencer: direction and eventType are required")
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("sequencer: marshal payload: %w", err)
	}

	var event models.SessionEvent

	err = db.Transaction(func(tx *gorm.DB) error {
		// Lock the session row so concurrent producers serialize on the
		// allocation instead of reading the same next_seq. MySQL takes a
		// row lock; SQLite serializes whole write transactions (the
		// connection DSN opens them immediate).
		var sess models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("sequencer: %w", fault.NotFound("session %s", sessionID))
			}
			return fmt.Errorf("sequencer: load session %s: %w", sessionID, err)
		}

		event = models.SessionEvent{
			SessionID: sessionID,
			Seq:       sess.NextSeq,
			Direction: direction,
			Type:      eventType,
			Payload:   body,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("sequencer: insert event seq %d: %w", event.Seq, err)
		}

		return advance(tx, sessionID, event.Seq+1)
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// AppendBatch inserts pre-sequenced events all-or-nothing, then advances the
// counter once to max(seq)+1.
func AppendBatch(db *gorm.DB, sessionID string, items []Item) ([]models.SessionEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sequencer: sessionID is required")
	}
	if len(items) == 0 {
		return nil, nil
	}

	events := make([]models.SessionEvent, 0, len(items))
	now := time.Now()
	var maxSeq int64
	for i, it := range items {
		body, err := marshalPayload(it.Payload)
		if err != nil {
			return nil, fmt.Errorf("sequencer: marshal payload [%d]: %w", i, err)
		}
		events = append(events, models.SessionEvent{
			SessionID: sessionID,
			Seq:       it.Seq,
			Direction: it.Direction,
			Type:      it.Type,
			Payload:   body,
			CreatedAt: now,
		})
		if it.Seq > maxSeq {
			maxSeq = it.Seq
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("sequencer: insert batch of %d: %w", len(events), err)
		}
		return advance(tx, sessionID, maxSeq+1)
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ReserveBlock atomically reserves n contiguous sequence numbers and returns
// the first. The caller owns [first, first+n) for a subsequent AppendBatch.
func ReserveBlock(db *gorm.DB, sessionID string, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("sequencer: block size must be positive")
	}

	var first int64
	err := db.Transaction(func(tx *gorm.DB) error {
		// Same locked read as Append: concurrent reservations must be
		// handed disjoint blocks.
		var sess models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("sequencer: %w", fault.NotFound("session %s", sessionID))
			}
			return fmt.Errorf("sequencer: load session %s: %w", sessionID, err)
		}
		first = sess.NextSeq

		result := tx.Model(&models.Session{}).
			Where("id = ?", sessionID).
			Update("next_seq", gorm.Expr("next_seq + ?", n))
		if result.Error != nil {
			return fmt.Errorf("sequencer: reserve %d for %s: %w", n, sessionID, result.Error)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return first, nil
}

// ReadOpts narrows a Read. FromSeq is exclusive (incremental tailing),
// ToSeq inclusive. Limit <= 0 means no limit.
type ReadOpts struct {
	FromSeq *int64
	ToSeq   *int64
	Limit   int
}

// Read returns events for a session in ascending seq order.
func Read(db *gorm.DB, sessionID string, opts ReadOpts) ([]models.SessionEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sequencer: sessionID is required")
	}

	q := db.Where("session_id = ?", sessionID)
	if opts.FromSeq != nil {
		q = q.Where("seq > ?", *opts.FromSeq)
	}
	if opts.ToSeq != nil {
		q = q.Where("seq <= ?", *opts.ToSeq)
	}
	q = q.Order("seq ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var events []models.SessionEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("sequencer: read %s: %w", sessionID, err)
	}
	return events, nil
}

// advance moves next_seq up to the proposed value if it is greater than the
// current one. A no-op when the counter has already passed it.
func advance(tx *gorm.DB, sessionID string, next int64) error {
	result := tx.Model(&models.Session{}).
		Where("id = ? AND next_seq < ?", sessionID, next).
		Updates(map[string]interface{}{
			"next_seq":      next,
			"last_activity": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("sequencer: advance %s to %d: %w", sessionID, next, result.Error)
	}
	return nil
}

// marshalPayload converts a payload to its stored JSON string. Strings are
// assumed to already be JSON or opaque text; nil stores empty.
func marshalPayload(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
