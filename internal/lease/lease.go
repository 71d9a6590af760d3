// Package lease grants time-bounded, renewable, exclusive ownership of a
// session to one gateway. It is the sole mechanism preventing two gateways
// from concurrently driving the same agent process; every mutating session
// operation is gated on holding a valid claim.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"gorm.io/gorm"
)

// DefaultTTL is the lease duration used when callers pass zero.
const DefaultTTL = 30 * time.Second

// Claim attempts to take or renew the lease on a session. It succeeds when
// the session is unclaimed, already claimed by gatewayID (renewal), or the
// existing lease has expired. A late renewal from a dispossessed owner is
// just a fresh claim attempt subject to the same rule.
//
// On conflict the returned error wraps fault.ErrConflict and names the
// current holder.
func Claim(db *gorm.DB, sessionID, gatewayID string, ttl time.Duration) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("lease: sessionID is required")
	}
	if gatewayID == "" {
		return nil, fmt.Errorf("lease: gatewayID is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	expires := now.Add(ttl)

	var claimed models.Session

	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Session{}).
			Where("id = ?", sessionID).
			Where("claimed_by = ? OR claimed_by = ? OR lease_expires_at < ?", "", gatewayID, now).
			Updates(map[string]interface{}{
				"claimed_by":       gatewayID,
				"lease_expires_at": expires,
			})
		if result.Error != nil {
			return fmt.Errorf("lease: claim %s for %s: %w", sessionID, gatewayID, result.Error)
		}

		if result.RowsAffected == 0 {
			var sess models.Session
			if err := tx.Where("id = ?", sessionID).First(&sess).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("lease: %w", fault.NotFound("session %s", sessionID))
				}
				return fmt.Errorf("lease: load session %s: %w", sessionID, err)
			}
			return fmt.Errorf("lease: claim %s for %s: %w", sessionID, gatewayID,
				fault.Conflict("held by %s until %s", sess.ClaimedBy, sess.LeaseExpiresAt.Format(time.RFC3339)))
		}

		if err := tx.Where("id = ?", sessionID).First(&claimed).Error; err != nil {
			return fmt.Errorf("lease: reload session %s: %w", sessionID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Release clears the claim fields for a session gatewayID holds. Idempotent:
// releasing an unclaimed session, or one whose lease has already expired, is
// a no-op. Releasing a session another gateway actively holds is refused.
func Release(db *gorm.DB, sessionID, gatewayID string) error {
	if sessionID == "" {
		return fmt.Errorf("lease: sessionID is required")
	}
	if gatewayID == "" {
		return fmt.Errorf("lease: gatewayID is required")
	}

	var sess models.Session
	if err := db.Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lease: %w", fault.NotFound("session %s", sessionID))
		}
		return fmt.Errorf("lease: load session %s: %w", sessionID, err)
	}

	now := time.Now()
	if sess.ClaimedBy != "" && sess.ClaimedBy != gatewayID &&
		sess.LeaseExpiresAt != nil && sess.LeaseExpiresAt.After(now) {
		return fmt.Errorf("lease: release %s: %w", sessionID,
			fault.Conflict("held by %s until %s", sess.ClaimedBy, sess.LeaseExpiresAt.Format(time.RFC3339)))
	}

	// Guarded like Claim so a racing re-claim is not clobbered.
	err := db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Where("claimed_by = ? OR claimed_by = ? OR lease_expires_at < ?", "", gatewayID, now).
		Updates(map[string]interface{}{
			"claimed_by":       "",
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("lease: release %s: %w", sessionID, err)
	}
	return nil
}

// Verify checks that gatewayID currently holds an unexpired lease on the
// session. Used for advisory gating at the API boundary.
func Verify(db *gorm.DB, sessionID, gatewayID string) error {
	var sess models.Session
	if err := db.Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lease: %w", fault.NotFound("session %s", sessionID))
		}
		return fmt.Errorf("lease: load session %s: %w", sessionID, err)
	}

	if sess.ClaimedBy != gatewayID {
		return fmt.Errorf("lease: verify %s: %w", sessionID,
			fault.Conflict("held by %q, not %q", sess.ClaimedBy, gatewayID))
	}
	if sess.LeaseExpiresAt == nil || sess.LeaseExpiresAt.Before(time.Now()) {
		return fmt.Errorf("lease: verify %s: %w", sessionID,
			fault.Conflict("lease held by %s has expired", gatewayID))
	}
	return nil
}

// StartRenewal launches a goroutine that renews the lease on a fixed
// interval, which must be safely shorter than the TTL (typically TTL/3).
// It returns a channel that receives an error if a renewal is refused —
// meaning the lease was lost to another gateway — after which the goroutine
// exits. Cancelling the context stops renewal without releasing the lease.
func StartRenewal(ctx context.Context, db *gorm.DB, sessionID, gatewayID string, ttl, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = ttl / 3
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		defer close(errCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := Claim(db, sessionID, gatewayID, ttl); err != nil {
					errCh <- fmt.Errorf("lease: renewal of %s: %w", sessionID, err)
					return
				}
			}
		}
	}()

	return errCh
}
