// Package gateway is the HTTP surface of one orchestration gateway: REST
// endpoints for sessions, instances, and workflow, an SSE event tail, the
// terminal websocket, and the background sweeps. Each running gateway has a
// unique identity used for session leases.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/switchyard-dev/switchyard/internal/config"
	"github.com/switchyard-dev/switchyard/internal/lease"
	"github.com/switchyard-dev/switchyard/internal/notify"
	"github.com/switchyard-dev/switchyard/internal/relay"
	"github.com/switchyard-dev/switchyard/internal/supervisor"
	"gorm.io/gorm"
)

// GenerateID creates a gateway identity in gw-xxxxxxxx format.
func GenerateID() string {
	return "gw-" + uuid.New().String()[:8]
}

// Options holds gateway construction parameters.
type Options struct {
	ID       string // generated when empty
	Config   *config.Config
	DB       *gorm.DB
	Sup      *supervisor.Supervisor
	Relays   *relay.Manager
	Notifier *notify.Fanout
	Out      io.Writer
}

// Gateway wires the HTTP API to the storage and process layers.
type Gateway struct {
	id       string
	cfg      *config.Config
	db       *gorm.DB
	sup      *supervisor.Supervisor
	relays   *relay.Manager
	notifier *notify.Fanout
	out      io.Writer

	mu       sync.Mutex
	renewals map[string]context.CancelFunc // sessionID -> lease renewal stop
}

// New creates a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("gateway: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if opts.Sup == nil {
		return nil, fmt.Errorf("gateway: supervisor is required")
	}
	id := opts.ID
	if id == "" {
		id = GenerateID()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewFanout()
	}
	return &Gateway{
		id:       id,
		cfg:      opts.Config,
		db:       opts.DB,
		sup:      opts.Sup,
		relays:   opts.Relays,
		notifier: notifier,
		out:      opts.Out,
		renewals: make(map[string]context.CancelFunc),
	}, nil
}

// ID returns this gateway's identity.
func (g *Gateway) ID() string { return g.id }

// Start runs the HTTP server and the background sweeps. It blocks until ctx
// is cancelled, then shuts down gracefully and stops the sweeps.
func (g *Gateway) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	g.registerRoutes(router)

	c := cron.New()
	spec := g.cfg.Gateway.SweepInterval
	if _, err := c.AddFunc(spec, g.sweepAwaitingInput); err != nil {
		return fmt.Errorf("gateway: schedule input sweep %q: %w", spec, err)
	}
	if _, err := c.AddFunc(spec, g.sweepOrphanedInstances); err != nil {
		return fmt.Errorf("gateway: schedule instance sweep %q: %w", spec, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
		g.stopAllRenewals()
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", g.cfg.Gateway.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if g.out != nil {
		fmt.Fprintf(g.out, "Gateway %s listening on :%d\n", g.id, g.cfg.Gateway.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

func (g *Gateway) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"gateway": g.id, "status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/sessions", g.handleCreateSession)
		api.GET("/sessions", g.handleListSessions)
		api.GET("/sessions/:id", g.handleGetSession)
		api.DELETE("/sessions/:id", g.handleDeleteSession)
		api.POST("/sessions/:id/claim", g.handleClaimSession)
		api.POST("/sessions/:id/release", g.handleReleaseSession)

		api.POST("/sessions/:id/events", g.handleAppendEvent)
		api.GET("/sessions/:id/events", g.handleListEvents)
		api.GET("/sessions/:id/events/stream", g.handleEventStream)

		api.POST("/sessions/:id/workflow", g.handleReportWorkflow)
		api.POST("/sessions/:id/input-request", g.handleRequestInput)
		api.POST("/sessions/:id/input-resolve", g.handleResolveInput)

		api.POST("/instances", g.handleStartInstance)
		api.GET("/instances/:id", g.handleGetInstance)
		api.POST("/instances/:id/stop", g.handleStopInstance)
		api.POST("/instances/:id/restart", g.handleRestartInstance)
		api.DELETE("/instances/:id", g.handleDeleteInstance)
	}

	router.GET("/ws/instances/:id/terminal", g.handleTerminal)
}

// startRenewal keeps the session lease alive until stopped or lost.
func (g *Gateway) startRenewal(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())

	g.mu.Lock()
	if prev, ok := g.renewals[sessionID]; ok {
		prev()
	}
	g.renewals[sessionID] = cancel
	g.mu.Unlock()

	errCh := lease.StartRenewal(ctx, g.db, sessionID, g.id,
		g.cfg.LeaseTTL(), g.cfg.RenewInterval())
	go func() {
		if err, ok := <-errCh; ok && err != nil {
			log.Printf("gateway: lease renewal for %s lost: %v", sessionID, err)
			g.stopRenewal(sessionID)
		}
	}()
}

func (g *Gateway) stopRenewal(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cancel, ok := g.renewals[sessionID]; ok {
		cancel()
		delete(g.renewals, sessionID)
	}
}

func (g *Gateway) stopAllRenewals() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, cancel := range g.renewals {
		cancel()
		delete(g.renewals, id)
	}
}
