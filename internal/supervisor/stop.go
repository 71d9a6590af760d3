package supervisor

import (
	"fmt"
	"log"
	"syscall"
	"time"

	"github.com/switchyard-dev/switchyard/internal/models"
)

// Stop terminates an instance's process: SIGTERM, a bounded grace period,
// then SIGKILL. Idempotent — stopping an already-dead or unknown-but-
// recorded instance marks it stopped and returns nil. Concurrent stops for
// the same instance serialize on the stopping sentinel.
func (s *Supervisor) Stop(instanceID string) error {
	s.mu.Lock()
	p, live := s.procs[instanceID]
	s.mu.Unlock()

	if !live {
		// No live process here: tolerate and settle the durable record.
		inst, err := s.Get(instanceID)
		if err != nil {
			return err
		}
		if inst.Status != models.InstanceStopped {
			now := time.Now()
			if err := s.db.Model(inst).Updates(map[string]interface{}{
				"status":     models.InstanceStopped,
				"stopped_at": now,
				"pid":        0,
			}).Error; err != nil {
				return fmt.Errorf("supervisor: mark %s stopped: %w", instanceID, err)
			}
		}
		return nil
	}

	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		// Another stop is in flight; wait for it to finish.
		<-p.done
		return nil
	}
	p.stopping = true
	p.mu.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("supervisor: SIGTERM %s: %v", instanceID, err)
	}

	select {
	case <-p.done:
	case <-time.After(s.opts.Grace):
		log.Printf("supervisor: %s did not exit within %s, escalating to SIGKILL", instanceID, s.opts.Grace)
		if err := p.cmd.Process.Kill(); err != nil {
			log.Printf("supervisor: SIGKILL %s: %v", instanceID, err)
		}
		<-p.done
	}

	return nil
}
