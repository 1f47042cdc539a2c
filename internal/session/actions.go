package session

import (
	"context"
	"time"

	"github.com/waconnect/waconnect-go/internal/apperror"
)

// Restart stops the session's timers and transport, waits briefly, then
// reconnects with the same auth state, per spec.md §4.1.
func (r *Registry) Restart(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return apperror.New(apperror.KindSessionNotFound, "session not found: "+id)
	}

	sess.mu.Lock()
	connCancel := sess.connCancel
	transport := sess.transport
	rootCtx := sess.ctx
	sess.status = StatusInit
	sess.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if transport != nil {
		done := make(chan struct{})
		go func() {
			_ = transport.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}

	time.Sleep(500 * time.Millisecond)

	if rootCtx == nil || rootCtx.Err() != nil {
		return apperror.New(apperror.KindTransport, "session context already torn down: "+id)
	}
	r.connect(rootCtx, sess)
	return nil
}

// Logout stops timers, removes the transport, instructs it to deauthorize,
// erases all persisted keys for this session, and drops it from the
// registry.
func (r *Registry) Logout(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return apperror.New(apperror.KindSessionNotFound, "session not found: "+id)
	}

	sess.mu.Lock()
	connCancel := sess.connCancel
	sessionCancel := sess.cancel
	transport := sess.transport
	sess.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if transport != nil {
		_ = transport.Logout()
		_ = transport.Close()
	}
	if sessionCancel != nil {
		sessionCancel()
	}

	if err := r.auth.EraseSession(ctx, id); err != nil {
		return apperror.Wrap(apperror.KindStore, "erase session "+id, err)
	}

	r.remove(id)
	return nil
}

// RequestPairingCode requests an alternate (non-QR) pairing code for the
// given E.164 phone number.
func (r *Registry) RequestPairingCode(ctx context.Context, id, phoneE164 string) (string, error) {
	sess, ok := r.Get(id)
	if !ok {
		return "", apperror.New(apperror.KindSessionNotFound, "session not found: "+id)
	}

	sess.mu.Lock()
	transport := sess.transport
	sess.mu.Unlock()
	if transport == nil {
		return "", apperror.New(apperror.KindTransport, "session has no live transport: "+id)
	}

	code, err := transport.RequestPairingCode(phoneE164)
	if err != nil {
		return "", apperror.Wrap(apperror.KindTransport, "request pairing code", err)
	}
	return code, nil
}

// SendText sends a text message through the session's transport. Refuses
// with CredentialsInvalid if the session has no valid identity yet.
func (r *Registry) SendText(ctx context.Context, id, to, text string) (string, error) {
	sess, ok := r.Get(id)
	if !ok {
		return "", apperror.New(apperror.KindSessionNotFound, "session not found: "+id)
	}

	sess.mu.Lock()
	transport := sess.transport
	credsValid := sess.credentialsValid()
	status := sess.status
	sess.mu.Unlock()

	if !credsValid {
		return "", apperror.ErrCredentialsInvalid
	}
	if transport == nil || status != StatusOpen {
		return "", apperror.New(apperror.KindTransport, "session not connected: "+id)
	}

	messageID, err := transport.SendMessage(to, text)
	if err != nil {
		return "", apperror.Wrap(apperror.KindTransport, "send message", err)
	}

	sess.mu.Lock()
	sess.lastActivity = nowMs()
	sess.mu.Unlock()

	return messageID, nil
}
