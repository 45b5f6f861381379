package broadcast

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pscheid92/stockrelay/internal/metrics"
)

type pingFrame struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
}

func encodePing(now time.Time) []byte {
	// Marshalling two strings cannot fail.
	data, _ := json.Marshal(pingFrame{Type: "ping", TS: now.UTC().Format(time.RFC3339)})
	return data
}

// superviseHeartbeat pings c every heartbeat interval so idle proxies keep
// the connection open. It exits when c is cancelled, when c is no longer the
// registered connection for its key, or after the first failed ping. Pings
// never touch the notification history.
func (r *Registry) superviseHeartbeat(c *connection) {
	defer r.heartbeats.Done()

	ticker := r.clock.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
		}

		select {
		case <-c.done:
			return
		default:
		}

		if !r.isCurrent(c) {
			return
		}

		if err := r.deliver(c, encodePing(r.clock.Now())); err != nil {
			metrics.HeartbeatsTotal.WithLabelValues("failed").Inc()
			slog.Debug("Heartbeat failed, supervisor exiting",
				"user_id", c.ref.UserID,
				"connection_id", c.ref.ConnectionID)
			return
		}
		metrics.HeartbeatsTotal.WithLabelValues("sent").Inc()
	}
}

func (r *Registry) isCurrent(c *connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[c.ref.UserID][c.ref.ConnectionID] == c
}
