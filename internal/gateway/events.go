package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/sequencer"
)

var validDirections = map[string]bool{
	models.DirClient: true,
	models.DirAgent:  true,
	models.DirSystem: true,
}

var validEventTypes = map[string]bool{
	models.EventInput:        true,
	models.EventOutputChunk:  true,
	models.EventMessageFinal: true,
	models.EventToolCall:     true,
	models.EventToolResult:   true,
	models.EventState:        true,
	models.EventError:        true,
	models.EventTranscript:   true,
	models.EventPRCreated:    true,
}

type appendEventRequest struct {
	Direction string          `json:"direction"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func (g *Gateway) handleAppendEvent(c *gin.Context) {
	id := c.Param("id")
	if !g.requireLease(c, id) {
		return
	}

	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Direction == "" {
		req.Direction = models.DirClient
	}
	if req.Type == "" {
		req.Type = models.EventInput
	}
	if !validDirections[req.Direction] || !validEventTypes[req.Type] {
		abortErr(c, fmt.Errorf("gateway: %w",
			fault.Precondition("unknown event %s/%s", req.Direction, req.Type)))
		return
	}

	ev, err := sequencer.Append(g.db, id, req.Direction, req.Type, []byte(req.Payload))
	if err != nil {
		abortErr(c, err)
		return
	}

	// Client input is also forwarded to the live agent terminal, if any.
	if req.Direction == models.DirClient && req.Type == models.EventInput {
		g.forwardInput(id, req.Payload)
	}

	c.JSON(http.StatusCreated, ev)
}

// forwardInput writes the text of a client input event to the session's
// live agent PTY. Best-effort: a session without a live instance just keeps
// the event in history.
func (g *Gateway) forwardInput(sessionID string, payload json.RawMessage) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Text == "" {
		return
	}

	var inst models.AgentInstance
	err := g.db.Where("session_id = ? AND status IN ?", sessionID,
		[]string{models.InstanceStarting, models.InstanceRunning}).
		Order("started_at DESC").First(&inst).Error
	if err != nil {
		return
	}
	if _, err := g.sup.Write(inst.ID, []byte(body.Text)); err != nil {
		log.Printf("gateway: forward input to %s: %v", inst.ID, err)
	}
}

func (g *Gateway) handleListEvents(c *gin.Context) {
	id := c.Param("id")
	if _, ok := g.loadSession(c); !ok {
		return
	}

	var opts sequencer.ReadOpts
	if v := c.Query("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from_seq must be an integer"})
			return
		}
		opts.FromSeq = &n
	}
	if v := c.Query("to_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to_seq must be an integer"})
			return
		}
		opts.ToSeq = &n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		opts.Limit = n
	}

	events, err := sequencer.Read(g.db, id, opts)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// handleEventStream tails a session's event log over SSE. The cursor starts
// after ?from_seq (exclusive) or at the current head when absent.
func (g *Gateway) handleEventStream(c *gin.Context) {
	sess, ok := g.loadSession(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	cursor := sess.NextSeq - 1
	if v := c.Query("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from_seq must be an integer"})
			return
		}
		cursor = n
	}

	writeSSE(c.Writer, "connected", gin.H{"session_id": sess.ID, "next_seq": cursor + 1})
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(1 * time.Second)
	heartbeat := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", gin.H{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			events, err := sequencer.Read(g.db, sess.ID, sequencer.ReadOpts{FromSeq: &cursor, Limit: 200})
			if err != nil || len(events) == 0 {
				continue
			}
			for _, ev := range events {
				writeSSE(c.Writer, "event", ev)
			}
			cursor = events[len(events)-1].Seq
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
