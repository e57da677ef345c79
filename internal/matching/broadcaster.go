package matching

import (
	"context"
	"time"

	"coderacer-matchmaker/internal/protocol"
)

// Broadcaster pushes queue position and wait time to every searching
// session on a fixed cadence. It works from tier snapshots, so a tick never
// holds the pairing path up; a session popped between snapshot and send
// simply skips its update.
type Broadcaster struct {
	coord    *Coordinator
	interval time.Duration
}

func NewBroadcaster(coord *Coordinator, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Broadcaster{coord: coord, interval: interval}
}

func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.tick(now)
			}
		}
	}()
}

func (b *Broadcaster) tick(now time.Time) {
	for _, tier := range b.coord.tiers {
		snapshot := tier.Snapshot()
		if len(snapshot) == 0 {
			continue
		}
		estimate := int(b.coord.estimatedWait(tier.Name).Seconds())

		b.coord.mu.Lock()
		for i, entry := range snapshot {
			s := b.coord.sessions[entry.SessionID]
			if s == nil || s.state != StateSearching || s.conn == nil {
				continue
			}
			s.conn.Send(protocol.MatchingStatusMessage{
				Type:                 "matching_status",
				Status:               "searching",
				QueuePosition:        i + 1,
				WaitTimeSeconds:      int(now.Sub(entry.EnqueuedAt).Seconds()),
				EstimatedWaitSeconds: estimate,
			})
			metricStatusPushTotal.Add(1)
		}
		b.coord.mu.Unlock()
	}
}
