package supervisor

import (
	"context"
	"log/slog"
	"time"
)

const (
	monitorPollInterval = 30 * time.Second
	monitorTableEvery   = 5 * time.Minute
	depthWarnThreshold  = 100
)

// QueueDepthFunc returns the current message count for a queue.
type QueueDepthFunc func(queue string) (int, error)

// MonitorQueueDepths polls queues every 30s, warning when any exceeds
// depthWarnThreshold, and logs a full table every five minutes.
func MonitorQueueDepths(ctx context.Context, log *slog.Logger, queues []string, inspect QueueDepthFunc) error {
	ticker := time.NewTicker(monitorPollInterval)
	defer ticker.Stop()

	lastTable := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			depths := make(map[string]int, len(queues))
			for _, q := range queues {
				n, err := inspect(q)
				if err != nil {
					log.Error("queue depth inspect failed", "queue", q, "err", err)
					continue
				}
				depths[q] = n
				if n > depthWarnThreshold {
					log.Warn("queue depth above threshold", "queue", q, "depth", n, "threshold", depthWarnThreshold)
				}
			}

			if time.Since(lastTable) >= monitorTableEvery {
				log.Info("queue depth table", "depths", depths)
				lastTable = time.Now()
			}
		}
	}
}
