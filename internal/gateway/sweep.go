package gateway

import (
	"log"
	"time"

	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/notify"
	"github.com/switchyard-dev/switchyard/internal/workflow"
)

// staleAfter is how long an instance row may sit in starting/running with
// no live process here before the sweep declares it orphaned.
const staleAfter = 2 * time.Minute

// sweepAwaitingInput applies default actions to expired input requests.
func (g *Gateway) sweepAwaitingInput() {
	n, err := workflow.SweepExpired(g.db, time.Now())
	if err != nil {
		log.Printf("gateway: input sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("gateway: input sweep resolved %d expired request(s)", n)
	}
}

// sweepOrphanedInstances settles instance rows left in starting/running by
// a crashed gateway. Only sessions this gateway holds are touched; rows
// backed by a live process here are skipped.
func (g *Gateway) sweepOrphanedInstances() {
	cutoff := time.Now().Add(-staleAfter)

	var instances []models.AgentInstance
	err := g.db.
		Joins("JOIN sessions ON sessions.id = agent_instances.session_id").
		Where("sessions.claimed_by = ?", g.id).
		Where("agent_instances.status IN ?", []string{models.InstanceStarting, models.InstanceRunning}).
		Where("agent_instances.last_activity < ?", cutoff).
		Find(&instances).Error
	if err != nil {
		log.Printf("gateway: instance sweep: %v", err)
		return
	}

	for _, inst := range instances {
		if g.sup.Alive(inst.ID) {
			continue
		}

		now := time.Now()
		res := g.db.Model(&models.AgentInstance{}).
			Where("id = ? AND status IN ?", inst.ID,
				[]string{models.InstanceStarting, models.InstanceRunning}).
			Updates(map[string]interface{}{
				"status":     models.InstanceError,
				"error_msg":  "orphaned: no live process",
				"stopped_at": now,
				"pid":        0,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		g.setSessionStatus(inst.SessionID, models.SessionError)
		log.Printf("gateway: instance sweep orphaned %s (session %s)", inst.ID, inst.SessionID)

		var sess models.Session
		if err := g.db.Where("id = ?", inst.SessionID).First(&sess).Error; err == nil {
			g.notifier.Notify(notify.SessionError(sess.ID, sess.Title,
				"agent instance "+inst.ID+" lost its process"))
		}
	}
}
