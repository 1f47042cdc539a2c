package session

import (
	"context"
	"fmt"

	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/eventfilter"
)

// start constructs a transport for sess, connects it, and launches the event
// loop plus liveness goroutines for this connection attempt.
func (r *Registry) start(sess *Session) {
	rootCtx, cancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	sess.ctx = rootCtx
	sess.cancel = cancel
	sess.mu.Unlock()

	r.connect(rootCtx, sess)
}

// connect builds a fresh transport and drives one connection attempt. It is
// called both on first start and on every restart/reconnect.
func (r *Registry) connect(rootCtx context.Context, sess *Session) {
	connCtx, connCancel := context.WithCancel(rootCtx)

	cfg := r.buildConnectionConfig(sess)
	transport := r.newTransport(cfg)

	sess.mu.Lock()
	sess.transport = transport
	sess.status = StatusConnecting
	sess.connCtx = connCtx
	sess.connCancel = connCancel
	sess.mu.Unlock()

	if err := transport.Connect(); err != nil {
		r.logger.Errorf("session %s: connect failed: %v", sess.ID, err)
		sess.mu.Lock()
		sess.status = StatusClose
		sess.mu.Unlock()
		connCancel()
		r.handleDisconnect(rootCtx, sess, core.StatusConnectionLost, false)
		return
	}

	go r.runEventLoop(connCtx, rootCtx, sess, transport)
}

func (r *Registry) runEventLoop(connCtx, rootCtx context.Context, sess *Session, transport core.Transport) {
	events := transport.Events()
	for {
		select {
		case <-connCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleEvent(rootCtx, sess, ev)
		}
	}
}

func (r *Registry) handleEvent(rootCtx context.Context, sess *Session, ev core.Event) {
	sess.mu.Lock()
	sess.lastActivity = nowMs()
	sess.mu.Unlock()

	if ev.Kind == core.EventConnectionUpdate && ev.Connection != nil {
		r.handleConnectionUpdate(rootCtx, sess, *ev.Connection)
		return
	}

	if ev.Kind == core.EventMessagesUpsert {
		r.handleMessagesUpsert(sess, ev.Messages)
		return
	}

	r.forwardGenericEvent(sess, ev)
}

func (r *Registry) handleMessagesUpsert(sess *Session, messages []core.Message) {
	for _, m := range messages {
		sess.messages.Set(m.Key.ID, m)
		if m.PushName != "" {
			sess.contacts.Set(m.Key.RemoteJID, m.PushName)
		}
	}

	if !r.filter.ShouldSendEvent(string(core.EventMessagesUpsert)) {
		return
	}

	admitted := make([]core.Message, 0, len(messages))
	for _, m := range messages {
		if r.filter.ShouldSendMessage(eventfilter.Message{RemoteJID: m.Key.RemoteJID}) {
			admitted = append(admitted, m)
		}
	}
	if len(admitted) == 0 {
		return
	}

	r.enqueueWebhook(sess, string(core.EventMessagesUpsert), admitted)
}

func (r *Registry) forwardGenericEvent(sess *Session, ev core.Event) {
	if !r.filter.ShouldSendEvent(string(ev.Kind)) {
		return
	}
	payload := ev.Raw
	if payload == nil {
		payload = ev
	}
	r.enqueueWebhook(sess, string(ev.Kind), payload)
}

func (r *Registry) enqueueWebhook(sess *Session, event string, payload any) {
	if !r.filter.ShouldSendEvent(event) {
		return
	}
	ctx := context.Background()
	if _, ok, err := r.webhooks.Enqueue(ctx, sess.ID, event, payload); err != nil {
		r.logger.Errorf("session %s: enqueue webhook %s: %v", sess.ID, event, err)
	} else if !ok {
		// no sink configured; nothing to do
		_ = ok
	}
}

func (r *Registry) handleConnectionUpdate(rootCtx context.Context, sess *Session, u core.ConnectionUpdate) {
	switch u.Connection {
	case core.PhaseConnecting:
		sess.mu.Lock()
		sess.status = StatusConnecting
		if u.QR != "" {
			sess.lastQR = u.QR
			sess.qrGeneratedAt = nowMs()
		}
		sess.mu.Unlock()

		if u.QR != "" {
			r.enqueueWebhook(sess, "qr.updated", map[string]any{
				"qr":        u.QR,
				"expiresAt": sess.qrGeneratedAt + 60000,
			})
			if r.cfg.ShowQRInTerminal {
				fmt.Printf("[session %s] pairing QR:\n%s\n", sess.ID, u.QR)
			}
		}

	case core.PhaseOpen:
		sess.mu.Lock()
		sess.status = StatusOpen
		sess.lastQR = ""
		now := nowMs()
		sess.connectedAt = now
		sess.lastActivity = now
		sess.reconnectAttempts = 0
		sess.lastPongReceivedAt = now
		sess.missedPongs = 0
		sess.mu.Unlock()

		r.startLiveness(rootCtx, sess)
		r.enqueueWebhook(sess, "session.connected", map[string]any{"sessionId": sess.ID})

	case core.PhaseClose:
		sess.mu.Lock()
		sess.status = StatusClose
		connCancel := sess.connCancel
		sess.connCancel = nil
		transport := sess.transport
		sess.mu.Unlock()
		if connCancel != nil {
			connCancel()
		}
		if transport != nil {
			_ = transport.Close()
		}

		r.enqueueWebhook(sess, "session.disconnected", map[string]any{
			"sessionId":   sess.ID,
			"statusCode":  u.StatusCode,
			"isLoggedOut": u.IsLoggedOut,
		})

		r.handleDisconnect(rootCtx, sess, u.StatusCode, u.IsLoggedOut)
	}
}
