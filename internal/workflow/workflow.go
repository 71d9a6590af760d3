// Package workflow tracks a session's agent-reported progress status and
// the time-boxed awaiting-input sub-state with its two resolution paths
// (human answer, timeout sweep).
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/sequencer"
	"gorm.io/gorm"
)

// DefaultInputTimeout applies when an agent requests input without a
// timeout.
const DefaultInputTimeout = 60 * time.Minute

// Resolution types.
const (
	ResolutionHuman   = "human"
	ResolutionTimeout = "timeout"
)

var validStatuses = map[string]bool{
	models.WorkflowStarted:        true,
	models.WorkflowWorking:        true,
	models.WorkflowAwaitingInput:  true,
	models.WorkflowBlocked:        true,
	models.WorkflowAwaitingReview: true,
	models.WorkflowCompleted:      true,
}

// Report overwrites the workflow status with an agent-initiated update and
// appends a state event to the session history. Any pending awaiting-input
// record is cleared unless the new status is itself awaiting_input.
// Completed is terminal: further reports are rejected.
func Report(db *gorm.DB, sessionID, status, message string) (*models.SessionEvent, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("workflow: %w", fault.Precondition("unknown workflow status %q", status))
	}

	var event *models.SessionEvent

	err := db.Transaction(func(tx *gorm.DB) error {
		sess, err := loadSession(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.WorkflowStatus == models.WorkflowCompleted {
			return fmt.Errorf("workflow: report %s: %w", sessionID,
				fault.Precondition("workflow already completed"))
		}

		updates := map[string]interface{}{
			"workflow_status":  status,
			"workflow_message": message,
			"last_activity":    time.Now(),
		}
		if status != models.WorkflowAwaitingInput {
			updates["awaiting_question"] = ""
			updates["awaiting_options"] = ""
			updates["awaiting_default"] = ""
			updates["awaiting_expires_at"] = nil
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("workflow: update %s: %w", sessionID, err)
		}

		event, err = sequencer.Append(tx, sessionID, models.DirAgent, models.EventState, map[string]string{
			"status":  status,
			"message": message,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// InputRequest describes an agent's pause for a human decision.
type InputRequest struct {
	Question      string
	Options       []string // ordered; optional
	DefaultAction string   // applied on timeout
	Timeout       time.Duration
}

// RequestInput moves the session to awaiting_input and persists the
// awaiting record with its expiry. Rejected when the workflow is completed.
// The transition itself is not sequenced; the eventual timeout resolution
// is, and a human answer reaches history through the client input path.
func RequestInput(db *gorm.DB, sessionID string, req InputRequest) error {
	if req.Question == "" {
		return fmt.Errorf("workflow: question is required")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultInputTimeout
	}

	options := ""
	if len(req.Options) > 0 {
		data, err := json.Marshal(req.Options)
		if err != nil {
			return fmt.Errorf("workflow: marshal options: %w", err)
		}
		options = string(data)
	}

	expires := time.Now().Add(timeout)

	return db.Transaction(func(tx *gorm.DB) error {
		sess, err := loadSession(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.WorkflowStatus == models.WorkflowCompleted {
			return fmt.Errorf("workflow: request input %s: %w", sessionID,
				fault.Precondition("workflow already completed"))
		}

		err = tx.Model(&models.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"workflow_status":     models.WorkflowAwaitingInput,
			"workflow_message":    req.Question,
			"awaiting_question":   req.Question,
			"awaiting_options":    options,
			"awaiting_default":    req.DefaultAction,
			"awaiting_expires_at": expires,
			"last_activity":       time.Now(),
		}).Error
		if err != nil {
			return fmt.Errorf("workflow: request input %s: %w", sessionID, err)
		}
		return nil
	})
}

// Resolution is one answer to a pending awaiting-input window.
type Resolution struct {
	Type  string // human or timeout
	Value string
}

// Resolve clears a pending awaiting-input record. Only the first resolution
// wins: the clear is guarded on the record still being present, so a racing
// human answer and timeout sweep cannot both apply. The overall workflow
// status is left for the agent's next Report. Timeout resolutions append a
// system state event; human answers leave their trace via the client's own
// input event.
func Resolve(db *gorm.DB, sessionID string, res Resolution) error {
	if res.Type != ResolutionHuman && res.Type != ResolutionTimeout {
		return fmt.Errorf("workflow: unknown resolution type %q", res.Type)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		sess, err := loadSession(tx, sessionID)
		if err != nil {
			return err
		}

		result := tx.Model(&models.Session{}).
			Where("id = ? AND workflow_status = ? AND awaiting_expires_at IS NOT NULL",
				sessionID, models.WorkflowAwaitingInput).
			Updates(map[string]interface{}{
				"awaiting_question":   "",
				"awaiting_options":    "",
				"awaiting_default":    "",
				"awaiting_expires_at": nil,
				"last_activity":       time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("workflow: resolve %s: %w", sessionID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("workflow: resolve %s: %w", sessionID,
				fault.Conflict("no pending input (already resolved?)"))
		}

		if res.Type == ResolutionTimeout {
			_, err = sequencer.Append(tx, sessionID, models.DirSystem, models.EventState, map[string]string{
				"status":   models.WorkflowAwaitingInput,
				"event":    "input_timeout",
				"type":     res.Type,
				"value":    res.Value,
				"question": sess.AwaitingQuestion,
			})
			return err
		}
		return nil
	})
}

// SweepExpired applies the default action to every awaiting-input record
// whose expiry has passed. Safe to run from multiple gateways: the guarded
// clear in Resolve lets only one sweep (or a racing human answer) win per
// record. Returns the number of records resolved here.
func SweepExpired(db *gorm.DB, now time.Time) (int, error) {
	var sessions []models.Session
	err := db.Where("workflow_status = ? AND awaiting_expires_at IS NOT NULL AND awaiting_expires_at < ?",
		models.WorkflowAwaitingInput, now).Find(&sessions).Error
	if err != nil {
		return 0, fmt.Errorf("workflow: sweep expired: %w", err)
	}

	resolved := 0
	for _, sess := range sessions {
		err := Resolve(db, sess.ID, Resolution{Type: ResolutionTimeout, Value: sess.AwaitingDefault})
		switch {
		case errors.Is(err, fault.ErrConflict):
			// Lost the race to a human answer or another gateway.
			continue
		case err != nil:
			log.Printf("workflow: sweep %s: %v", sess.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// Pending returns the awaiting-input record, or nil when none is pending.
func Pending(db *gorm.DB, sessionID string) (*InputRequest, *time.Time, error) {
	sess, err := loadSession(db, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.WorkflowStatus != models.WorkflowAwaitingInput || sess.AwaitingExpiresAt == nil {
		return nil, nil, nil
	}

	var options []string
	if sess.AwaitingOptions != "" {
		if err := json.Unmarshal([]byte(sess.AwaitingOptions), &options); err != nil {
			return nil, nil, fmt.Errorf("workflow: unmarshal options for %s: %w", sessionID, err)
		}
	}
	return &InputRequest{
		Question:      sess.AwaitingQuestion,
		Options:       options,
		DefaultAction: sess.AwaitingDefault,
	}, sess.AwaitingExpiresAt, nil
}

func loadSession(db *gorm.DB, sessionID string) (*models.Session, error) {
	var sess models.Session
	if err := db.Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workflow: %w", fault.NotFound("session %s", sessionID))
		}
		return nil, fmt.Errorf("workflow: load session %s: %w", sessionID, err)
	}
	return &sess, nil
}
