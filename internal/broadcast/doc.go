// Package broadcast tracks live WebSocket connections per user and delivers
// notifications to them.
//
// The Registry keeps two tables under one RWMutex: user → connections and
// user → cached metadata (role, branch, display name). Every connection owns a
// write guard so writes to one socket never interleave, and a heartbeat
// goroutine that pings it until the connection is removed. A failed write
// evicts the connection immediately. Nothing is queued: users that are not
// connected at dispatch time receive nothing.
package broadcast
