package session

import (
	"context"
	"math"
	"time"

	"github.com/waconnect/waconnect-go/internal/core"
)

// handleDisconnect classifies a close event's statusCode per spec.md §4.1 and
// either marks the session terminal, schedules an immediate restart, or
// schedules a backoff reconnect.
func (r *Registry) handleDisconnect(rootCtx context.Context, sess *Session, statusCode int, isLoggedOut bool) {
	if isLoggedOut || statusCode == core.StatusLoggedOut {
		sess.mu.Lock()
		sess.status = StatusClose
		sess.loggedOut = true
		sess.mu.Unlock()
		r.logger.Infof("session %s: logged out, not reconnecting", sess.ID)
		return
	}

	sess.mu.Lock()
	credsValid := sess.credentialsValid()
	sess.mu.Unlock()
	if !credsValid {
		sess.mu.Lock()
		sess.status = StatusInvalidCredentials
		sess.mu.Unlock()
		r.logger.Warnf("session %s: invalid credentials, not reconnecting", sess.ID)
		return
	}

	if statusCode == core.StatusRestartRequired {
		sess.mu.Lock()
		sess.status = StatusConnectionLost
		sess.mu.Unlock()
		r.scheduleRestart(rootCtx, sess, 0)
		return
	}

	if !r.cfg.Reconnect.AutoReconnect {
		return
	}

	// CONNECTION_LOST | TIMED_OUT | CONNECTION_CLOSED(428) | anything else:
	// schedule a reconnect with exponential backoff (safe default).
	r.scheduleBackoffReconnect(rootCtx, sess)
}

func (r *Registry) scheduleBackoffReconnect(rootCtx context.Context, sess *Session) {
	sess.mu.Lock()
	sess.reconnectAttempts++
	attempts := sess.reconnectAttempts
	sess.mu.Unlock()

	if attempts > r.cfg.Reconnect.MaxReconnectAttempts {
		sess.mu.Lock()
		sess.status = StatusClose
		sess.mu.Unlock()
		r.logger.Errorf("session %s: exceeded max reconnect attempts (%d)", sess.ID, r.cfg.Reconnect.MaxReconnectAttempts)
		return
	}

	sess.mu.Lock()
	sess.status = StatusConnectionLost
	sess.mu.Unlock()

	r.scheduleRestart(rootCtx, sess, backoffDelay(attempts))
}

// backoffDelay implements min(5000 * 1.5^(attempts-1), 60000) ms.
func backoffDelay(attempts int) time.Duration {
	ms := 5000 * math.Pow(1.5, float64(attempts-1))
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *Registry) scheduleRestart(rootCtx context.Context, sess *Session, delay time.Duration) {
	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-rootCtx.Done():
				return
			}
		}
		if rootCtx.Err() != nil {
			return
		}
		r.connect(rootCtx, sess)
	}()
}
