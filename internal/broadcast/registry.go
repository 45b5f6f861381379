package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
	"github.com/pscheid92/stockrelay/internal/notification"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultMaxPerUser        = 10
)

// Socket is the write side of a duplex connection. *websocket.Conn satisfies it.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type connection struct {
	ref         domain.ConnectionRef
	socket      Socket
	writeMu     sync.Mutex
	connectedAt time.Time
	done        chan struct{}
	stopOnce    sync.Once
}

// stop cancels the heartbeat. Safe to call any number of times.
func (c *connection) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

type userMeta struct {
	role        domain.Role
	branch      string
	displayName string
}

// Options configures a Registry. Zero values fall back to defaults.
type Options struct {
	HeartbeatInterval     time.Duration
	WriteTimeout          time.Duration
	MaxConnectionsPerUser int
	Clock                 clockwork.Clock
	// History receives every dispatched notification. Optional.
	History *notification.History
}

type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]*connection
	users  map[string]userMeta
	closed bool

	clock             clockwork.Clock
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	maxPerUser        int
	history           *notification.History

	heartbeats sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		conns:             make(map[string]map[string]*connection),
		users:             make(map[string]userMeta),
		clock:             opts.Clock,
		heartbeatInterval: opts.HeartbeatInterval,
		writeTimeout:      opts.WriteTimeout,
		maxPerUser:        opts.MaxConnectionsPerUser,
		history:           opts.History,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.heartbeatInterval <= 0 {
		r.heartbeatInterval = defaultHeartbeatInterval
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = defaultWriteTimeout
	}
	if r.maxPerUser <= 0 {
		r.maxPerUser = defaultMaxPerUser
	}
	return r
}

// Connect registers an accepted socket and starts its heartbeat. No frame is
// written here; the client may not be reading yet. Reusing a live
// (userID, connectionID) pair replaces the previous connection.
func (r *Registry) Connect(socket Socket, userID, connectionID string, role domain.Role, branch, displayName string) error {
	if userID == "" || connectionID == "" {
		return domain.ErrMissingIdentity
	}

	c := &connection{
		ref:         domain.ConnectionRef{UserID: userID, ConnectionID: connectionID},
		socket:      socket,
		connectedAt: r.clock.Now(),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrRegistryClosed
	}

	userConns := r.conns[userID]
	replaced := userConns[connectionID]
	live := len(userConns)
	if replaced != nil {
		live--
	}
	if live >= r.maxPerUser {
		r.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w (%d)", domain.ErrConnectionLimit, r.maxPerUser)
	}

	if userConns == nil {
		userConns = make(map[string]*connection)
		r.conns[userID] = userConns
	}
	userConns[connectionID] = c
	r.users[userID] = userMeta{role: role, branch: branch, displayName: displayName}
	r.heartbeats.Add(1)
	r.updateGaugesLocked()
	r.mu.Unlock()

	if replaced != nil {
		r.release(replaced, "replaced")
		metrics.ConnectionsTotal.WithLabelValues("replaced").Inc()
		slog.Info("Connection replaced", "user_id", userID, "connection_id", connectionID)
	} else {
		metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	}

	go r.superviseHeartbeat(c)

	slog.Debug("Connection registered",
		"user_id", userID,
		"connection_id", connectionID,
		"role", role,
		"branch_id", branch)
	return nil
}

// Disconnect removes the connection, cancels its heartbeat and closes the
// socket. Disconnecting an absent connection is a no-op.
func (r *Registry) Disconnect(userID, connectionID string) {
	r.remove(userID, connectionID, nil, "client")
}

// DisconnectSocket is Disconnect restricted to the connection that owns
// socket. Read loops call it on exit so that a reconnect which reused the
// connection ID is left in place.
func (r *Registry) DisconnectSocket(userID, connectionID string, socket Socket) bool {
	r.mu.RLock()
	c := r.conns[userID][connectionID]
	r.mu.RUnlock()
	if c == nil || c.socket != socket {
		return false
	}
	return r.remove(userID, connectionID, c, "client")
}

// remove deletes (userID, connectionID) if it is still registered. When only
// is non-nil the entry is removed only if it is that exact connection, so a
// late failure on a replaced socket cannot evict its successor.
func (r *Registry) remove(userID, connectionID string, only *connection, reason string) bool {
	r.mu.Lock()
	c := r.conns[userID][connectionID]
	if c == nil || (only != nil && c != only) {
		r.mu.Unlock()
		return false
	}

	delete(r.conns[userID], connectionID)
	lastConnection := len(r.conns[userID]) == 0
	if lastConnection {
		delete(r.conns, userID)
		delete(r.users, userID)
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.release(c, reason)

	if lastConnection {
		slog.Debug("Last connection removed, user evicted", "user_id", userID, "reason", reason)
	} else {
		slog.Debug("Connection removed", "user_id", userID, "connection_id", connectionID, "reason", reason)
	}
	return true
}

func (r *Registry) release(c *connection, reason string) {
	c.stop()
	_ = c.socket.Close()
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()
	metrics.ConnectionDuration.Observe(r.clock.Since(c.connectedAt).Seconds())
}

func (r *Registry) updateGaugesLocked() {
	total := 0
	for _, userConns := range r.conns {
		total += len(userConns)
	}
	metrics.ConnectionsCurrent.Set(float64(total))
	metrics.UsersCurrent.Set(float64(len(r.users)))
}

// SendToConnection writes msg as one text frame under the connection's write
// guard. A failed write removes the connection before the error is returned.
func (r *Registry) SendToConnection(userID, connectionID string, msg []byte) error {
	r.mu.RLock()
	c := r.conns[userID][connectionID]
	r.mu.RUnlock()
	if c == nil {
		return domain.ErrConnectionNotFound
	}
	return r.deliver(c, msg)
}

func (r *Registry) deliver(c *connection, msg []byte) error {
	start := r.clock.Now()

	c.writeMu.Lock()
	err := c.socket.SetWriteDeadline(r.clock.Now().Add(r.writeTimeout))
	if err == nil {
		err = c.socket.WriteMessage(websocket.TextMessage, msg)
	}
	c.writeMu.Unlock()

	metrics.MessageSendDuration.Observe(r.clock.Since(start).Seconds())

	if err != nil {
		metrics.WriteFailures.Inc()
		r.remove(c.ref.UserID, c.ref.ConnectionID, c, "write_failed")
		slog.Warn("Write failed, connection evicted",
			"user_id", c.ref.UserID,
			"connection_id", c.ref.ConnectionID,
			"error", err)
		return fmt.Errorf("write to %s/%s: %w", c.ref.UserID, c.ref.ConnectionID, err)
	}
	return nil
}

// SendToUser writes msg to every live connection of userID. A failing
// connection is evicted and does not stop delivery to the others.
func (r *Registry) SendToUser(userID string, msg []byte) domain.DeliveryReport {
	var report domain.DeliveryReport
	for _, c := range r.connectionsOf(userID) {
		if err := r.deliver(c, msg); err != nil {
			report.Failed = append(report.Failed, c.ref)
			continue
		}
		report.Delivered++
	}
	return report
}

// BroadcastToRole sends msg to every connected user whose role equals role
// and, when branch is non-empty, whose branch equals branch.
func (r *Registry) BroadcastToRole(role domain.Role, msg []byte, branch string) domain.DeliveryReport {
	var report domain.DeliveryReport
	for _, userID := range r.usersMatching(role, branch) {
		report.Merge(r.SendToUser(userID, msg))
	}
	return report
}

func (r *Registry) BroadcastToUsers(userIDs []string, msg []byte) domain.DeliveryReport {
	var report domain.DeliveryReport
	for _, userID := range userIDs {
		report.Merge(r.SendToUser(userID, msg))
	}
	return report
}

func (r *Registry) connectionsOf(userID string) []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.conns[userID]
	out := make([]*connection, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) usersMatching(role domain.Role, branch string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for userID, meta := range r.users {
		if meta.role != role {
			continue
		}
		if branch != "" && meta.branch != branch {
			continue
		}
		out = append(out, userID)
	}
	return out
}

// IsConnected reports whether the exact (userID, connectionID) pair is live.
func (r *Registry) IsConnected(userID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID][connectionID]
	return ok
}

// ConnectionCount returns the number of live connections for userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Viewer returns the cached metadata of a connected user.
func (r *Registry) Viewer(userID string) (domain.Viewer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.users[userID]
	if !ok {
		return domain.Viewer{}, false
	}
	return domain.Viewer{UserID: userID, Role: meta.role, Branch: meta.branch}, true
}

// Stats summarizes the registry for the health endpoint.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Users: len(r.users)}
	for _, userConns := range r.conns {
		s.Connections += len(userConns)
	}
	return s
}

// Shutdown rejects new connections, sends a going-away close frame to every
// socket, closes them and waits for heartbeats to exit or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	var all []*connection
	for _, userConns := range r.conns {
		for _, c := range userConns {
			all = append(all, c)
		}
	}
	r.conns = make(map[string]map[string]*connection)
	r.users = make(map[string]userMeta)
	r.updateGaugesLocked()
	r.mu.Unlock()

	closeFrame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range all {
		c.stop()
		c.writeMu.Lock()
		_ = c.socket.SetWriteDeadline(r.clock.Now().Add(r.writeTimeout))
		_ = c.socket.WriteMessage(websocket.CloseMessage, closeFrame)
		c.writeMu.Unlock()
		r.release(c, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		r.heartbeats.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Registry stopped", "connections_closed", len(all))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry shutdown: %w", ctx.Err())
	}
}
