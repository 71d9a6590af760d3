// Package supervisor owns the agent process lifecycle: PTY spawn, graceful
// stop with forced escalation, restart, and best-effort usage metering.
// Only this package mutates AgentInstance status.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/switchyard-dev/switchyard/internal/agent"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"gorm.io/gorm"
)

// Defaults for process control and metering cadence.
const (
	DefaultGracePeriod       = 10 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	DefaultFlushInterval     = 5 * time.Second
	DefaultUsageInterval     = 30 * time.Second
	DefaultUsageInitialDelay = 5 * time.Second
)

// Resolver picks a ready agent kind for a requested kind plus fallbacks.
type Resolver func(kind string, fallbacks []string) (agent.Kind, error)

// Options configures a Supervisor.
type Options struct {
	Grace             time.Duration
	SettleDelay       time.Duration
	FlushInterval     time.Duration
	UsageInterval     time.Duration
	UsageInitialDelay time.Duration
	Resolver          Resolver // test hook; defaults to registry.ResolveReady
}

// Supervisor tracks live agent processes for one gateway. Process handles
// are in-memory only; instance rows are durable.
type Supervisor struct {
	db       *gorm.DB
	registry *agent.Registry
	opts     Options

	mu    sync.Mutex
	procs map[string]*process

	totals usageTotals
}

// New creates a Supervisor.
func New(db *gorm.DB, registry *agent.Registry, opts Options) *Supervisor {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGracePeriod
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.UsageInterval <= 0 {
		opts.UsageInterval = DefaultUsageInterval
	}
	if opts.UsageInitialDelay <= 0 {
		opts.UsageInitialDelay = DefaultUsageInitialDelay
	}
	if opts.Resolver == nil {
		opts.Resolver = registry.ResolveReady
	}
	return &Supervisor{
		db:       db,
		registry: registry,
		opts:     opts,
		procs:    make(map[string]*process),
	}
}

// StartSpec holds parameters for starting an agent instance.
type StartSpec struct {
	InstanceID string // reused on restart; generated when empty
	SessionID  string
	WorktreeID string
	Workdir    string   // resolved from the worktree row when empty
	Kind       string   // preferred agent kind
	Fallbacks  []string // ordered fallback kinds
	Env        []string // extra, already-resolved credentials/environment
}

// GenerateInstanceID creates a unique instance ID in inst-xxxxxxxx format.
func GenerateInstanceID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("supervisor: generate instance ID: %w", err)
	}
	return "inst-" + hex.EncodeToString(b), nil
}

// Start validates the requested agent kind, spawns it on a PTY in the
// worktree directory, and returns the instance record in status starting.
// The status flips to running on the first output byte; a spawn failure
// leaves the row in error with the captured reason.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) (*models.AgentInstance, error) {
	if spec.SessionID == "" {
		return nil, fmt.Errorf("supervisor: sessionID is required")
	}

	kind, err := s.opts.Resolver(spec.Kind, spec.Fallbacks)
	if err != nil {
		return nil, fmt.Errorf("supervisor: start for session %s: %w", spec.SessionID, err)
	}

	workdir := spec.Workdir
	if workdir == "" {
		workdir, err = s.resolveWorkdir(spec.WorktreeID)
		if err != nil {
			return nil, err
		}
	}

	instanceID := spec.InstanceID
	if instanceID == "" {
		instanceID, err = GenerateInstanceID()
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	inst := models.AgentInstance{
		ID:           instanceID,
		SessionID:    spec.SessionID,
		WorktreeID:   spec.WorktreeID,
		Kind:         kind.Name(),
		Status:       models.InstanceStarting,
		LastActivity: now,
		StartedAt:    now,
	}
	if err := s.upsertInstance(&inst); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := kind.Command(procCtx, workdir)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		s.markError(instanceID, fmt.Sprintf("spawn %s: %v", kind.Name(), err))
		return nil, fmt.Errorf("supervisor: %w", fault.Internal("spawn %s for %s: %v", kind.Name(), spec.SessionID, err))
	}

	p := &process{
		instanceID: instanceID,
		sessionID:  spec.SessionID,
		spec:       spec,
		kind:       kind,
		cmd:        cmd,
		ptmx:       ptmx,
		cancel:     cancel,
		waitCh:     make(chan error, 1),
		done:       make(chan struct{}),
		flusher:    newEventFlusher(s.db, spec.SessionID),
	}

	s.mu.Lock()
	s.procs[instanceID] = p
	s.mu.Unlock()

	s.db.Model(&models.AgentInstance{}).Where("id = ?", instanceID).
		Update("pid", cmd.Process.Pid)

	go p.readLoop(s)
	go p.waitLoop(s)
	s.startUsageCollector(procCtx, p)
	startFlusher(procCtx, p.flusher, s.opts.FlushInterval)

	inst.PID = cmd.Process.Pid
	return &inst, nil
}

// Restart stops the instance, waits a short settle delay, and starts it
// again under the same identity. Not atomic: if the fresh start fails the
// instance is left in error and callers must re-check status.
func (s *Supervisor) Restart(ctx context.Context, instanceID string) (*models.AgentInstance, error) {
	spec, err := s.specFor(instanceID)
	if err != nil {
		return nil, err
	}

	if err := s.Stop(instanceID); err != nil {
		return nil, err
	}

	time.Sleep(s.opts.SettleDelay)

	spec.InstanceID = instanceID
	inst, err := s.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("supervisor: restart %s: %w", instanceID, err)
	}
	return inst, nil
}

// Get loads an instance row.
func (s *Supervisor) Get(instanceID string) (*models.AgentInstance, error) {
	var inst models.AgentInstance
	if err := s.db.Where("id = ?", instanceID).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("supervisor: %w", fault.NotFound("instance %s", instanceID))
		}
		return nil, fmt.Errorf("supervisor: get %s: %w", instanceID, err)
	}
	return &inst, nil
}

// Delete removes an instance record. The process must already be stopped.
func (s *Supervisor) Delete(instanceID string) error {
	s.mu.Lock()
	_, live := s.procs[instanceID]
	s.mu.Unlock()
	if live {
		return fmt.Errorf("supervisor: %w", fault.Precondition("instance %s is still running", instanceID))
	}
	if err := s.db.Where("id = ?", instanceID).Delete(&models.AgentInstance{}).Error; err != nil {
		return fmt.Errorf("supervisor: delete %s: %w", instanceID, err)
	}
	return nil
}

// specFor rebuilds a StartSpec for restart, preferring the live process's
// original spec and falling back to the durable row.
func (s *Supervisor) specFor(instanceID string) (StartSpec, error) {
	s.mu.Lock()
	p, ok := s.procs[instanceID]
	s.mu.Unlock()
	if ok {
		return p.spec, nil
	}

	inst, err := s.Get(instanceID)
	if err != nil {
		return StartSpec{}, err
	}
	return StartSpec{
		InstanceID: inst.ID,
		SessionID:  inst.SessionID,
		WorktreeID: inst.WorktreeID,
		Kind:       inst.Kind,
	}, nil
}

func (s *Supervisor) resolveWorkdir(worktreeID string) (string, error) {
	if worktreeID == "" {
		return "", fmt.Errorf("supervisor: workdir or worktreeID is required")
	}
	var wt models.Worktree
	if err := s.db.Where("id = ?", worktreeID).First(&wt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("supervisor: %w", fault.NotFound("worktree %s", worktreeID))
		}
		return "", fmt.Errorf("supervisor: load worktree %s: %w", worktreeID, err)
	}
	return wt.Path, nil
}

func (s *Supervisor) upsertInstance(inst *models.AgentInstance) error {
	var existing models.AgentInstance
	err := s.db.Where("id = ?", inst.ID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(inst).Error; err != nil {
			return fmt.Errorf("supervisor: create instance %s: %w", inst.ID, err)
		}
	case err != nil:
		return fmt.Errorf("supervisor: load instance %s: %w", inst.ID, err)
	default:
		if err := s.db.Model(&models.AgentInstance{}).Where("id = ?", inst.ID).
			Updates(map[string]interface{}{
				"status":        inst.Status,
				"kind":          inst.Kind,
				"error_msg":     "",
				"stopped_at":    nil,
				"last_activity": inst.LastActivity,
				"started_at":    inst.StartedAt,
			}).Error; err != nil {
			return fmt.Errorf("supervisor: reset instance %s: %w", inst.ID, err)
		}
	}
	return nil
}

func (s *Supervisor) markError(instanceID, msg string) {
	err := s.db.Model(&models.AgentInstance{}).Where("id = ?", instanceID).
		Updates(map[string]interface{}{
			"status":    models.InstanceError,
			"error_msg": msg,
		}).Error
	if err != nil {
		log.Printf("supervisor: mark %s error: %v", instanceID, err)
	}
}

func (s *Supervisor) markRunning(instanceID string) {
	err := s.db.Model(&models.AgentInstance{}).
		Where("id = ? AND status = ?", instanceID, models.InstanceStarting).
		Update("status", models.InstanceRunning).Error
	if err != nil {
		log.Printf("supervisor: mark %s running: %v", instanceID, err)
	}
}

func (s *Supervisor) touch(instanceID string) {
	s.db.Model(&models.AgentInstance{}).Where("id = ?", instanceID).
		Update("last_activity", time.Now())
}
