package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/notify"
	"github.com/switchyard-dev/switchyard/internal/workflow"
)

type reportWorkflowRequest struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message"`
}

func (g *Gateway) handleReportWorkflow(c *gin.Context) {
	id := c.Param("id")
	if !g.requireLease(c, id) {
		return
	}

	var req reportWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := workflow.Report(g.db, id, req.Status, req.Message)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

type requestInputRequest struct {
	Question      string   `json:"question" binding:"required"`
	Options       []string `json:"options"`
	DefaultAction string   `json:"default_action"`
	TimeoutSecs   int      `json:"timeout_secs"`
}

func (g *Gateway) handleRequestInput(c *gin.Context) {
	id := c.Param("id")
	if !g.requireLease(c, id) {
		return
	}

	var req requestInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(g.cfg.Workflow.DefaultInputTimeoutMin) * time.Minute
	}

	err := workflow.RequestInput(g.db, id, workflow.InputRequest{
		Question:      req.Question,
		Options:       req.Options,
		DefaultAction: req.DefaultAction,
		Timeout:       timeout,
	})
	if err != nil {
		abortErr(c, err)
		return
	}

	var sess models.Session
	if err := g.db.Where("id = ?", id).First(&sess).Error; err == nil && sess.AwaitingExpiresAt != nil {
		g.notifier.Notify(notify.AwaitingInput(sess.ID, sess.Title,
			req.Question, req.Options, req.DefaultAction, *sess.AwaitingExpiresAt))
	}

	c.Status(http.StatusAccepted)
}

type resolveInputRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// handleResolveInput answers a pending question. Not lease-guarded: a human
// may answer through any gateway, and the guarded clear in the workflow
// layer keeps resolution single-shot.
func (g *Gateway) handleResolveInput(c *gin.Context) {
	id := c.Param("id")

	var req resolveInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = workflow.ResolutionHuman
	}

	if err := workflow.Resolve(g.db, id, workflow.Resolution{Type: req.Type, Value: req.Value}); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
