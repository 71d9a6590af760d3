package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/relay"
	"github.com/switchyard-dev/switchyard/internal/supervisor"
)

type startInstanceRequest struct {
	SessionID  string   `json:"session_id" binding:"required"`
	WorktreeID string   `json:"worktree_id"`
	Workdir    string   `json:"workdir"`
	Kind       string   `json:"kind"`
	Fallbacks  []string `json:"fallbacks"`
}

func (g *Gateway) handleStartInstance(c *gin.Context) {
	var req startInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !g.requireLease(c, req.SessionID) {
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = g.cfg.Agents.Default
	}
	fallbacks := req.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = g.cfg.Agents.Fallbacks
	}

	g.setSessionStatus(req.SessionID, models.SessionStarting)
	inst, err := g.sup.Start(c.Request.Context(), supervisor.StartSpec{
		SessionID:  req.SessionID,
		WorktreeID: req.WorktreeID,
		Workdir:    req.Workdir,
		Kind:       kind,
		Fallbacks:  fallbacks,
	})
	if err != nil {
		g.setSessionStatus(req.SessionID, models.SessionError)
		abortErr(c, err)
		return
	}

	g.setSessionStatus(req.SessionID, models.SessionRunning)
	c.JSON(http.StatusCreated, inst)
}

func (g *Gateway) handleGetInstance(c *gin.Context) {
	inst, err := g.sup.Get(c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (g *Gateway) handleStopInstance(c *gin.Context) {
	id := c.Param("id")
	inst, err := g.sup.Get(id)
	if err != nil {
		abortErr(c, err)
		return
	}
	if !g.requireLease(c, inst.SessionID) {
		return
	}

	g.setSessionStatus(inst.SessionID, models.SessionStopping)
	if err := g.sup.Stop(id); err != nil {
		abortErr(c, err)
		return
	}
	if g.relays != nil {
		g.relays.CloseFor(id)
	}
	g.setSessionStatus(inst.SessionID, models.SessionStopped)
	c.Status(http.StatusNoContent)
}

func (g *Gateway) handleRestartInstance(c *gin.Context) {
	id := c.Param("id")
	inst, err := g.sup.Get(id)
	if err != nil {
		abortErr(c, err)
		return
	}
	if !g.requireLease(c, inst.SessionID) {
		return
	}

	if g.relays != nil {
		g.relays.CloseFor(id)
	}
	restarted, err := g.sup.Restart(c.Request.Context(), id)
	if err != nil {
		g.setSessionStatus(inst.SessionID, models.SessionError)
		abortErr(c, err)
		return
	}
	g.setSessionStatus(inst.SessionID, models.SessionRunning)
	c.JSON(http.StatusOK, restarted)
}

func (g *Gateway) handleDeleteInstance(c *gin.Context) {
	if err := g.sup.Delete(c.Param("id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) setSessionStatus(sessionID, status string) {
	g.db.Model(&models.Session{}).Where("id = ?", sessionID).
		Update("status", status)
}

var terminalUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Viewers connect from the local UI; same trust domain as the API.
		return true
	},
}

// handleTerminal upgrades to a websocket and attaches the viewer to the
// requested terminal relay (?kind=agent|directory, default agent).
func (g *Gateway) handleTerminal(c *gin.Context) {
	id := c.Param("id")
	kind := relay.Kind(c.DefaultQuery("kind", string(relay.KindAgent)))

	r, err := g.relays.Open(id, kind)
	if err != nil {
		abortErr(c, err)
		return
	}

	conn, err := terminalUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	relay.ServeConn(conn, r)
}
