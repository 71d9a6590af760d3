// Package relay multiplexes live terminal streams to websocket viewers.
// An agent relay taps the supervised agent PTY; a directory relay runs a
// plain shell in the session's worktree. Every relay keeps a bounded
// scrollback ring so a late-joining viewer gets a snapshot before live
// bytes.
package relay

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/supervisor"
	"gorm.io/gorm"
)

// DefaultSnapshotBytes bounds the scrollback replayed to new viewers.
const DefaultSnapshotBytes = 256 * 1024

// Kind selects which terminal a relay exposes.
type Kind string

const (
	KindAgent     Kind = "agent"     // the supervised agent's PTY
	KindDirectory Kind = "directory" // a shell in the session's worktree
)

type relayKey struct {
	instanceID string
	kind       Kind
}

// Options configures a Manager.
type Options struct {
	SnapshotBytes int
	Shell         string // directory relay shell; $SHELL then /bin/sh when empty
}

// Manager owns all live relays for one gateway, keyed by instance and kind.
type Manager struct {
	db   *gorm.DB
	sup  *supervisor.Supervisor
	opts Options

	mu     sync.Mutex
	relays map[relayKey]*Relay
}

// NewManager creates a Manager.
func NewManager(db *gorm.DB, sup *supervisor.Supervisor, opts Options) *Manager {
	if opts.SnapshotBytes <= 0 {
		opts.SnapshotBytes = DefaultSnapshotBytes
	}
	return &Manager{
		db:     db,
		sup:    sup,
		opts:   opts,
		relays: make(map[relayKey]*Relay),
	}
}

// Relay is one live terminal stream with scrollback and subscribers.
type Relay struct {
	InstanceID string
	Kind       Kind

	ring     *ring
	writeFn  func([]byte) error
	resizeFn func(cols, rows uint16) error
	stopFn   func() // tears down a directory shell; nil for agent relays

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// Open returns the relay for (instanceID, kind), creating it on first use.
// Opening an existing relay is a no-op returning the same relay, so any
// number of viewers can attach.
func (m *Manager) Open(instanceID string, kind Kind) (*Relay, error) {
	key := relayKey{instanceID: instanceID, kind: kind}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.relays[key]; ok {
		return r, nil
	}

	var r *Relay
	var err error
	switch kind {
	case KindAgent:
		r, err = m.openAgent(instanceID)
	case KindDirectory:
		r, err = m.openDirectory(instanceID)
	default:
		return nil, fmt.Errorf("relay: %w", fault.Precondition("unknown relay kind %q", kind))
	}
	if err != nil {
		return nil, err
	}

	m.relays[key] = r
	return r, nil
}

// Get returns an already-open relay.
func (m *Manager) Get(instanceID string, kind Kind) (*Relay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relays[relayKey{instanceID: instanceID, kind: kind}]
	return r, ok
}

// Close tears down one relay. Closing an agent relay detaches viewers but
// never stops the instance itself.
func (m *Manager) Close(instanceID string, kind Kind) {
	key := relayKey{instanceID: instanceID, kind: kind}

	m.mu.Lock()
	r, ok := m.relays[key]
	delete(m.relays, key)
	m.mu.Unlock()

	if ok {
		r.shutdown()
	}
}

// CloseFor tears down every relay of an instance, typically after the
// instance stopped.
func (m *Manager) CloseFor(instanceID string) {
	m.Close(instanceID, KindAgent)
	m.Close(instanceID, KindDirectory)
}

func (m *Manager) openAgent(instanceID string) (*Relay, error) {
	if !m.sup.Alive(instanceID) {
		return nil, fmt.Errorf("relay: %w", fault.Precondition("no live process for instance %s", instanceID))
	}

	r := &Relay{
		InstanceID: instanceID,
		Kind:       KindAgent,
		ring:       newRing(m.opts.SnapshotBytes),
		subs:       make(map[chan []byte]struct{}),
		writeFn: func(p []byte) error {
			_, err := m.sup.Write(instanceID, p)
			return err
		},
		resizeFn: func(cols, rows uint16) error {
			return m.sup.Resize(instanceID, cols, rows)
		},
	}

	if err := m.sup.Tap(instanceID, r.ingest); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Manager) openDirectory(instanceID string) (*Relay, error) {
	workdir, err := m.worktreePath(instanceID)
	if err != nil {
		return nil, err
	}

	shell := m.opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", fault.Internal("spawn shell for %s: %v", instanceID, err))
	}

	r := &Relay{
		InstanceID: instanceID,
		Kind:       KindDirectory,
		ring:       newRing(m.opts.SnapshotBytes),
		subs:       make(map[chan []byte]struct{}),
		writeFn: func(p []byte) error {
			_, err := ptmx.Write(p)
			return err
		},
		resizeFn: func(cols, rows uint16) error {
			return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
		},
		stopFn: func() {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			ptmx.Close()
		},
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				r.ingest(chunk)
			}
			if err != nil {
				break
			}
		}
		cmd.Wait()
		m.Close(instanceID, KindDirectory)
	}()

	return r, nil
}

func (m *Manager) worktreePath(instanceID string) (string, error) {
	var inst models.AgentInstance
	if err := m.db.Where("id = ?", instanceID).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("relay: %w", fault.NotFound("instance %s", instanceID))
		}
		return "", fmt.Errorf("relay: load instance %s: %w", instanceID, err)
	}
	if inst.WorktreeID == "" {
		return "", fmt.Errorf("relay: %w", fault.Precondition("instance %s has no worktree", instanceID))
	}

	var wt models.Worktree
	if err := m.db.Where("id = ?", inst.WorktreeID).First(&wt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("relay: %w", fault.NotFound("worktree %s", inst.WorktreeID))
		}
		return "", fmt.Errorf("relay: load worktree %s: %w", inst.WorktreeID, err)
	}
	return wt.Path, nil
}

// Snapshot returns the current scrollback, oldest bytes first.
func (r *Relay) Snapshot() []byte {
	return r.ring.Snapshot()
}

// Write sends viewer input to the underlying terminal.
func (r *Relay) Write(p []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return fmt.Errorf("relay: %w", fault.Precondition("relay for %s is closed", r.InstanceID))
	}
	return r.writeFn(p)
}

// Resize propagates a viewer resize. Non-fatal for viewers; errors are
// logged and swallowed.
func (r *Relay) Resize(cols, rows uint16) {
	if err := r.resizeFn(cols, rows); err != nil {
		log.Printf("relay: resize %s/%s: %v", r.InstanceID, r.Kind, err)
	}
}

// Subscribe registers a viewer channel. The caller must drain it; a viewer
// that falls too far behind has its channel closed.
func (r *Relay) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a viewer channel.
func (r *Relay) Unsubscribe(ch chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
}

// ingest records a terminal chunk and fans it out to subscribers.
func (r *Relay) ingest(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.ring.Write(chunk)
	for ch := range r.subs {
		select {
		case ch <- chunk:
		default:
			// Viewer stalled; drop it rather than block the stream.
			delete(r.subs, ch)
			close(ch)
		}
	}
}

func (r *Relay) shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
	r.mu.Unlock()

	if r.stopFn != nil {
		r.stopFn()
	}
}
