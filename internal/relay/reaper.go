package relay

import (
	"context"
	"time"

	"github.com/fordward/relay/pkg/types"
)

// StartReapers launches the two periodic eviction tasks. Both stop when
// ctx is cancelled.
func (r *Relay) StartReapers(ctx context.Context) {
	go r.runTicker(ctx, r.cfg.StaleReapInterval, r.reapStaleRobots)
	go r.runTicker(ctx, r.cfg.IdleReapInterval, r.reapIdleLeases)
}

func (r *Relay) runTicker(ctx context.Context, period time.Duration, fn func(time.Time)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			fn(now)
		case <-ctx.Done():
			return
		}
	}
}

// reapStaleRobots evicts robots that have sent nothing for the robot
// timeout. Removal is compare-and-remove on the socket, so a robot that
// reconnected between the scan and the removal keeps its fresh record.
func (r *Relay) reapStaleRobots(now time.Time) {
	for _, stale := range r.robots.Stale(now, r.cfg.RobotTimeout) {
		if !r.robots.Remove(stale.ID, stale.Conn) {
			continue
		}
		// Closed only after the removal, so the session's own close
		// handler finds nothing to remove and the reason stays "timeout".
		if stale.Conn != nil {
			_ = stale.Conn.Close()
		}
		r.broadcastToAll(eventFrame(stale.ID, types.EventRobotOffline, map[string]any{
			"robotId": stale.ID,
			"reason":  types.ReasonTimeout,
		}))
		r.record(stale.ID, "", types.EventRobotOffline, map[string]any{"reason": types.ReasonTimeout})
		r.log.Info().Str("robot", stale.ID).Msg("stale robot reaped")
	}
}

// reapIdleLeases unowns leases whose holder has sent no motion command
// for the idle timeout.
func (r *Relay) reapIdleLeases(now time.Time) {
	for _, rel := range r.robots.EvictIdleLeases(now, r.cfg.ControlIdleTimeout) {
		r.broadcastToSubscribers(rel.RobotID, eventFrame(rel.RobotID, types.EventControlReleased, map[string]any{
			"reason":        types.ReasonIdleTimeout,
			"previousOwner": rel.PreviousOwner,
		}))
		r.record(rel.RobotID, "", types.EventControlReleased, map[string]any{
			"reason":        types.ReasonIdleTimeout,
			"previousOwner": rel.PreviousOwner,
		})
		r.log.Info().Str("robot", rel.RobotID).Str("previousOwner", rel.PreviousOwner).Msg("idle control lease evicted")
	}
}
