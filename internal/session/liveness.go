package session

import (
	"context"
	"time"
)

// startLiveness launches the keep-alive pinger and health checker for the
// current connection attempt. Both stop when sess.connCtx is cancelled
// (on close, restart, or logout).
func (r *Registry) startLiveness(rootCtx context.Context, sess *Session) {
	sess.mu.Lock()
	connCtx := sess.connCtx
	sess.mu.Unlock()
	if connCtx == nil {
		return
	}

	go r.keepAliveLoop(rootCtx, connCtx, sess)
	go r.healthCheckLoop(rootCtx, connCtx, sess)
}

func (r *Registry) keepAliveLoop(rootCtx, connCtx context.Context, sess *Session) {
	interval := r.cfg.Liveness.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			r.keepAliveTick(rootCtx, connCtx, sess)
		}
	}
}

func (r *Registry) keepAliveTick(rootCtx, connCtx context.Context, sess *Session) {
	sess.mu.Lock()
	transport := sess.transport
	sess.mu.Unlock()
	if transport == nil || !transport.IsWritable() {
		return
	}

	if err := transport.Ping(); err != nil {
		r.logger.Warnf("session %s: ping failed: %v", sess.ID, err)
	} else {
		sess.mu.Lock()
		now := nowMs()
		sess.lastPongReceivedAt = now
		sess.lastActivity = now
		sess.mu.Unlock()
	}

	sess.mu.Lock()
	pongTimeout := r.cfg.Liveness.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 10 * time.Second
	}
	stale := nowMs()-sess.lastPongReceivedAt > pongTimeout.Milliseconds()
	if stale {
		sess.missedPongs++
	}
	missed := sess.missedPongs
	maxMissed := r.cfg.Liveness.MaxMissedPongs
	sess.mu.Unlock()

	if maxMissed <= 0 {
		maxMissed = 3
	}
	if missed >= maxMissed {
		r.logger.Warnf("session %s: missed %d pongs, forcing reconnect", sess.ID, missed)
		r.forceClose(rootCtx, connCtx, sess)
	}
}

func (r *Registry) healthCheckLoop(rootCtx, connCtx context.Context, sess *Session) {
	interval := r.cfg.Liveness.HealthCheckInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			r.healthCheckTick(rootCtx, connCtx, sess)
		}
	}
}

func (r *Registry) healthCheckTick(rootCtx, connCtx context.Context, sess *Session) {
	sess.mu.Lock()
	transport := sess.transport
	lastActivity := sess.lastActivity
	status := sess.status
	sess.mu.Unlock()

	if transport == nil {
		return
	}

	maxIdle := r.cfg.Liveness.MaxIdleTime
	if maxIdle <= 0 {
		maxIdle = 300 * time.Second
	}
	if nowMs()-lastActivity > maxIdle.Milliseconds() {
		if err := transport.SendPresenceUpdate(); err != nil {
			r.logger.Warnf("session %s: health probe failed: %v", sess.ID, err)
			r.forceClose(rootCtx, connCtx, sess)
			return
		}
		sess.mu.Lock()
		sess.lastActivity = nowMs()
		sess.mu.Unlock()
	}

	if status == StatusOpen && !transport.IsWritable() {
		sess.mu.Lock()
		sess.status = StatusClose
		sess.mu.Unlock()
	}
}

// forceClose closes the transport for this connection attempt, which drives
// the normal close-event path (and therefore reconnect) via the event loop.
// If the transport fails to surface a close event on its own, we drive the
// disconnect classification directly as a fallback.
func (r *Registry) forceClose(rootCtx, connCtx context.Context, sess *Session) {
	sess.mu.Lock()
	transport := sess.transport
	sess.mu.Unlock()
	if transport != nil {
		_ = transport.Close()
	}

	select {
	case <-connCtx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	sess.mu.Lock()
	alreadyClosed := sess.connCtx != connCtx
	cancel := sess.connCancel
	sess.mu.Unlock()
	if alreadyClosed {
		return
	}

	if cancel != nil {
		cancel()
	}
	r.handleDisconnect(rootCtx, sess, 0, false)
}
