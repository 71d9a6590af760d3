package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/lease"
	"github.com/switchyard-dev/switchyard/internal/models"
	"gorm.io/gorm"
)

// generateSessionID creates a unique session ID in sess-xxxxxxxx format.
func generateSessionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("gateway: generate session ID: %w", err)
	}
	return "sess-" + hex.EncodeToString(b), nil
}

// abortErr maps a layered error onto an HTTP response.
func abortErr(c *gin.Context, err error) {
	c.JSON(fault.HTTPStatus(err), gin.H{"error": err.Error()})
}

// requireLease rejects mutations on sessions this gateway does not hold.
func (g *Gateway) requireLease(c *gin.Context, sessionID string) bool {
	if err := lease.Verify(g.db, sessionID, g.id); err != nil {
		abortErr(c, err)
		return false
	}
	return true
}

type createSessionRequest struct {
	Title      string `json:"title"`
	TaskRef    string `json:"task_ref"`
	WorktreeID string `json:"worktree_id"`
}

func (g *Gateway) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := generateSessionID()
	if err != nil {
		abortErr(c, err)
		return
	}

	now := time.Now()
	sess := models.Session{
		ID:             id,
		Title:          req.Title,
		TaskRef:        req.TaskRef,
		WorktreeID:     req.WorktreeID,
		Status:         models.SessionProvisioning,
		WorkflowStatus: models.WorkflowStarted,
		LastActivity:   now,
		CreatedAt:      now,
	}
	if err := g.db.Create(&sess).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("create session: %v", err)})
		return
	}

	c.JSON(http.StatusCreated, sess)
}

func (g *Gateway) handleListSessions(c *gin.Context) {
	q := g.db.Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if wf := c.Query("workflow_status"); wf != "" {
		q = q.Where("workflow_status = ?", wf)
	}

	var sessions []models.Session
	if err := q.Find(&sessions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (g *Gateway) loadSession(c *gin.Context) (*models.Session, bool) {
	id := c.Param("id")
	var sess models.Session
	if err := g.db.Where("id = ?", id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			abortErr(c, fmt.Errorf("gateway: %w", fault.NotFound("session %s", id)))
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return &sess, true
}

func (g *Gateway) handleGetSession(c *gin.Context) {
	sess, ok := g.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (g *Gateway) handleDeleteSession(c *gin.Context) {
	sess, ok := g.loadSession(c)
	if !ok {
		return
	}
	switch sess.Status {
	case models.SessionStopped, models.SessionError, models.SessionProvisioning:
	default:
		abortErr(c, fmt.Errorf("gateway: %w",
			fault.Precondition("session %s is %s; stop it first", sess.ID, sess.Status)))
		return
	}

	// Events go with the session via the cascade constraint.
	if err := g.db.Delete(&models.Session{}, "id = ?", sess.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) handleClaimSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := lease.Claim(g.db, id, g.id, g.cfg.LeaseTTL())
	if err != nil {
		abortErr(c, err)
		return
	}

	g.startRenewal(id)
	c.JSON(http.StatusOK, sess)
}

func (g *Gateway) handleReleaseSession(c *gin.Context) {
	id := c.Param("id")
	g.stopRenewal(id)
	if err := lease.Release(g.db, id, g.id); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
