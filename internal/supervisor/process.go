package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/switchyard-dev/switchyard/internal/agent"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
)

// process is one live agent subprocess. The PTY handle is owned exclusively
// by the supervisor; the relay reaches it through Write/Resize/Tap.
type process struct {
	instanceID string
	sessionID  string
	spec       StartSpec
	kind       agent.Kind
	cmd        *exec.Cmd
	ptmx       *os.File
	cancel     context.CancelFunc
	waitCh     chan error
	done       chan struct{}
	flusher    *eventFlusher

	mu       sync.Mutex
	stopping bool // sentinel: a stop is already in flight
	taps     []func([]byte)
	lineBuf  bytes.Buffer
	usage    usageTotals
}

// readLoop pumps PTY output to the taps, the event flusher, and the usage
// parser. The first byte read flips the instance to running.
func (p *process) readLoop(s *Supervisor) {
	buf := make([]byte, 4096)
	first := true

	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			if first {
				first = false
				s.markRunning(p.instanceID)
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			p.mu.Lock()
			taps := append([]func([]byte){}, p.taps...)
			p.mu.Unlock()
			for _, tap := range taps {
				tap(chunk)
			}

			p.flusher.Write(chunk)
			p.scanUsage(chunk)
			s.touch(p.instanceID)
		}
		if err != nil {
			// PTY read errors on process exit (EIO on Linux); waitLoop
			// settles the final status.
			return
		}
	}
}

// waitLoop reaps the subprocess and settles the durable status: stopped on
// clean exit or explicit stop, error on an unexpected non-zero exit.
func (p *process) waitLoop(s *Supervisor) {
	waitErr := p.cmd.Wait()
	p.flusher.Close()
	p.ptmx.Close()

	p.mu.Lock()
	wasStopping := p.stopping
	p.mu.Unlock()

	s.mu.Lock()
	delete(s.procs, p.instanceID)
	s.mu.Unlock()

	now := time.Now()
	if waitErr != nil && !wasStopping {
		s.db.Model(&models.AgentInstance{}).Where("id = ?", p.instanceID).
			Updates(map[string]interface{}{
				"status":     models.InstanceError,
				"error_msg":  fmt.Sprintf("process exited: %v", waitErr),
				"stopped_at": now,
				"pid":        0,
			})
	} else {
		s.db.Model(&models.AgentInstance{}).Where("id = ?", p.instanceID).
			Updates(map[string]interface{}{
				"status":     models.InstanceStopped,
				"stopped_at": now,
				"pid":        0,
			})
	}

	p.cancel()
	p.waitCh <- waitErr
	close(p.done)
}

// scanUsage feeds complete output lines to the kind's usage parser.
func (p *process) scanUsage(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lineBuf.Write(chunk)
	for {
		line, err := p.lineBuf.ReadBytes('\n')
		if err != nil {
			// Partial line: keep for the next chunk.
			p.lineBuf.Write(line)
			return
		}
		if u, ok := p.kind.ParseUsage(bytes.TrimSpace(line)); ok {
			p.usage.add(u.InputTokens, u.OutputTokens)
			if u.Model != "" {
				p.usage.setModel(u.Model)
			}
		}
	}
}

// Write sends client bytes to the agent's PTY.
func (s *Supervisor) Write(instanceID string, data []byte) (int, error) {
	p, err := s.proc(instanceID)
	if err != nil {
		return 0, err
	}
	n, err := p.ptmx.Write(data)
	if err != nil {
		return n, fmt.Errorf("supervisor: write to %s: %w", instanceID, err)
	}
	return n, nil
}

// Resize propagates a terminal resize to the PTY. Failures are returned but
// callers treat them as non-fatal.
func (s *Supervisor) Resize(instanceID string, cols, rows uint16) error {
	p, err := s.proc(instanceID)
	if err != nil {
		return err
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("supervisor: resize %s: %w", instanceID, err)
	}
	return nil
}

// Tap registers a callback invoked with every PTY output chunk.
func (s *Supervisor) Tap(instanceID string, fn func([]byte)) error {
	p, err := s.proc(instanceID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.taps = append(p.taps, fn)
	p.mu.Unlock()
	return nil
}

// Alive reports whether the instance has a live process in this gateway.
func (s *Supervisor) Alive(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[instanceID]
	return ok
}

func (s *Supervisor) proc(instanceID string) (*process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[instanceID]
	if !ok {
		return nil, fmt.Errorf("supervisor: %w", fault.Precondition("no live process for instance %s", instanceID))
	}
	return p, nil
}
