// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WhatsApp WebSocket endpoints
const (
	WAWebSocketURL = "wss://web.whatsapp.com/ws/chat"
	WAOrigin       = "https://web.whatsapp.com"
)

// ConnectionState represents the current connection state of the transport socket
// itself (distinct from the Session Supervisor's higher-level status).
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

// SignalKeyStore is the narrow capability the transport needs for the end-to-end
// signal protocol; opaque to the gateway beyond get/set/clear.
type SignalKeyStore interface {
	Get(category string, ids []string) (map[string][]byte, error)
	Set(data map[string]map[string][]byte) error
	Clear(category string) error
}

// AuthState bundles the identity document and signal keys a Connection resumes
// from, as persisted by the auth credential store.
type AuthState struct {
	Creds *Credentials
	Keys  SignalKeyStore
}

// Credentials is the persisted identity document for a session.
type Credentials struct {
	NoiseKey       []byte `json:"noiseKey"`
	SignedIdentity []byte `json:"signedIdentity"`
	SignedPreKey   []byte `json:"signedPreKey"`
	RegistrationID int    `json:"registrationId"`
	AdvSecretKey   string `json:"advSecretKey"`
	Me             struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"me"`
}

// ConnectionConfig holds connection configuration.
type ConnectionConfig struct {
	SessionID        string
	AuthState        *AuthState
	ConnectTimeoutMs int
	QRTimeoutMs      int
	Logger           *zap.SugaredLogger
	// OnCredsUpdate is invoked whenever the handshake produces a new or changed
	// identity document; the caller (Session Supervisor) must persist it via the
	// auth credential store before treating the session as open.
	OnCredsUpdate func(*Credentials) error
}

// Connection manages the WebSocket connection to WhatsApp. It implements
// Transport.
type Connection struct {
	ws     *websocket.Conn
	state  ConnectionState
	config ConnectionConfig
	logger *zap.SugaredLogger
	noise  *NoiseHandler

	msgChan   chan []byte
	events    chan Event
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

// NewConnection creates a new WhatsApp connection.
func NewConnection(config ConnectionConfig) *Connection {
	return &Connection{
		state:   StateDisconnected,
		config:  config,
		logger:  config.Logger,
		noise:   NewNoiseHandler(),
		msgChan: make(chan []byte, 100),
		events:  make(chan Event, 256),
	}
}

// Events returns the channel the supervisor reads typed events from.
func (c *Connection) Events() <-chan Event {
	return c.events
}

func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warnf("session %s: event channel full, dropping %s", c.config.SessionID, ev.Kind)
	}
}

func (c *Connection) emitConnectionUpdate(u ConnectionUpdate) {
	c.emit(Event{Kind: EventConnectionUpdate, Connection: &u})
}

// Connect establishes connection to WhatsApp servers and begins delivering
// events. It returns once the dial has completed; the Noise handshake and auth
// (QR/pairing or resume) continue asynchronously via emitted events.
func (c *Connection) Connect() error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseConnecting})

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel

	dialCtx := ctx
	if c.config.ConnectTimeoutMs > 0 {
		var dialCancel context.CancelFunc
		dialCtx, dialCancel = context.WithTimeout(ctx, time.Duration(c.config.ConnectTimeoutMs)*time.Millisecond)
		defer dialCancel()
	}

	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {WAOrigin}},
	}

	ws, _, err := websocket.Dial(dialCtx, WAWebSocketURL, opts)
	if err != nil {
		c.logger.Errorf("session %s: websocket dial failed: %v", c.config.SessionID, err)
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.ws = ws
	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	go c.receiveLoop(ctx)
	go c.runHandshakeAndAuth(ctx)

	return nil
}

func (c *Connection) runHandshakeAndAuth(ctx context.Context) {
	if err := c.performHandshake(ctx); err != nil {
		c.logger.Errorf("session %s: handshake failed: %v", c.config.SessionID, err)
		c.closeWithCode(websocket.StatusAbnormalClosure, "handshake failed")
		c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseClose, StatusCode: StatusConnectionLost, ErrorMessage: err.Error()})
		return
	}
	c.logger.Infof("session %s: noise handshake completed", c.config.SessionID)

	if c.hasCredentials() {
		if err := c.resumeSession(ctx); err == nil {
			return
		}
		c.logger.Warnf("session %s: resume failed, starting fresh", c.config.SessionID)
	}

	if err := c.startNewSession(ctx); err != nil {
		c.logger.Errorf("session %s: new session failed: %v", c.config.SessionID, err)
		c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseClose, StatusCode: StatusConnectionLost, ErrorMessage: err.Error()})
	}
}

// performHandshake performs the Noise Protocol handshake.
func (c *Connection) performHandshake(ctx context.Context) error {
	clientHello := c.noise.GenerateClientHello()
	if err := c.sendRaw(ctx, clientHello); err != nil {
		return fmt.Errorf("failed to send client hello: %w", err)
	}

	var serverData []byte
	timeout := time.After(30 * time.Second)
	processAttempts := 0
	const maxProcessAttempts = 5
	const minBytesForError = 256

	for {
		select {
		case chunk := <-c.msgChan:
			serverData = append(serverData, chunk...)
			if len(serverData) >= 32 {
				processAttempts++
				err := c.noise.ProcessServerHello(serverData)
				if err != nil {
					if len(serverData) >= minBytesForError && processAttempts >= maxProcessAttempts {
						return fmt.Errorf("failed to process server hello after %d attempts: %w", processAttempts, err)
					}
					continue
				}
				goto handshakeComplete
			}
		case <-timeout:
			return fmt.Errorf("timeout waiting for server hello (got %d bytes)", len(serverData))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

handshakeComplete:
	clientFinish, err := c.noise.GenerateClientFinish()
	if err != nil {
		return fmt.Errorf("failed to generate client finish: %w", err)
	}
	if err := c.sendRaw(ctx, clientFinish); err != nil {
		return fmt.Errorf("failed to send client finish: %w", err)
	}
	return nil
}

// startNewSession starts a new session with QR code authentication.
func (c *Connection) startNewSession(ctx context.Context) error {
	qrData := c.generateQRData()
	c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseConnecting, QR: qrData})

	timeout := time.Duration(c.config.QRTimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	select {
	case msg := <-c.msgChan:
		return c.handleAuthMessage(msg)
	case <-time.After(timeout):
		return fmt.Errorf("QR code expired")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resumeSession attempts to resume an existing session using persisted
// credentials.
func (c *Connection) resumeSession(ctx context.Context) error {
	creds := c.config.AuthState.Creds
	resumeNode := c.buildResumeNode(creds)
	if err := c.sendNode(ctx, resumeNode); err != nil {
		return err
	}

	select {
	case msg := <-c.msgChan:
		return c.handleResumeResponse(msg)
	case <-time.After(30 * time.Second):
		return fmt.Errorf("resume timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) generateQRData() string {
	ref := generateRef()
	pubKey := encodeBase64(c.noise.GetPublicKey())
	return GenerateWhatsAppQR(ref, pubKey, c.config.SessionID)
}

func encodeBase64(data []byte) string {
	const b64 = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	result := make([]byte, 0, ((len(data)+2)/3)*4)
	for i := 0; i < len(data); i += 3 {
		var b uint32
		remaining := len(data) - i
		if remaining >= 3 {
			b = uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
			result = append(result, b64[b>>18&0x3F], b64[b>>12&0x3F], b64[b>>6&0x3F], b64[b&0x3F])
		} else if remaining == 2 {
			b = uint32(data[i])<<16 | uint32(data[i+1])<<8
			result = append(result, b64[b>>18&0x3F], b64[b>>12&0x3F], b64[b>>6&0x3F], '=')
		} else {
			b = uint32(data[i]) << 16
			result = append(result, b64[b>>18&0x3F], b64[b>>12&0x3F], '=', '=')
		}
	}
	return string(result)
}

func (c *Connection) sendRaw(ctx context.Context, data []byte) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}
	return ws.Write(ctx, websocket.MessageBinary, data)
}

func (c *Connection) sendNode(ctx context.Context, node *BinaryNode) error {
	data := EncodeBinaryNode(node)
	encrypted := c.noise.Encrypt(data)
	return c.sendRaw(ctx, encrypted)
}

func (c *Connection) receiveLoop(ctx context.Context) {
	const readTimeout = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := c.ws.Read(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warnf("session %s: read error: %v", c.config.SessionID, err)
			c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseClose, StatusCode: StatusConnectionLost, ErrorMessage: err.Error()})
			return
		}

		if c.noise.IsHandshakeComplete() {
			data = c.noise.Decrypt(data)
		}

		select {
		case c.msgChan <- data:
		case <-ctx.Done():
			return
		default:
			c.logger.Warnf("session %s: msgChan full, dropping message", c.config.SessionID)
		}
	}
}

func (c *Connection) handleAuthMessage(msg []byte) error {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.mu.Unlock()

	if c.config.OnCredsUpdate != nil && c.config.AuthState != nil {
		creds := c.config.AuthState.Creds
		if creds.Me.ID == "" {
			creds.Me.ID = c.config.SessionID + "@s.whatsapp.net"
		}
		if err := c.config.OnCredsUpdate(creds); err != nil {
			return fmt.Errorf("saveCreds failed: %w", err)
		}
	}

	c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseOpen})
	return nil
}

func (c *Connection) handleResumeResponse(msg []byte) error {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.mu.Unlock()
	c.emitConnectionUpdate(ConnectionUpdate{Connection: PhaseOpen})
	return nil
}

func (c *Connection) buildResumeNode(creds *Credentials) *BinaryNode {
	return &BinaryNode{
		Tag: "iq",
		Attrs: map[string]string{
			"type": "set",
			"to":   "s.whatsapp.net",
		},
	}
}

func (c *Connection) hasCredentials() bool {
	return c.config.AuthState != nil && c.config.AuthState.Creds != nil && c.config.AuthState.Creds.Me.ID != ""
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeWithCode(websocket.StatusNormalClosure, "closing")
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}

func (c *Connection) closeWithCode(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close(code, reason)
	}
	c.state = StateDisconnected
}

// GetState returns current connection state.
func (c *Connection) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsWritable reports whether the underlying socket can currently accept writes.
func (c *Connection) IsWritable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws != nil && (c.state == StateConnected || c.state == StateAuthenticated)
}

// Ping sends a transport-level keep-alive frame.
func (c *Connection) Ping() error {
	if !c.IsWritable() {
		return fmt.Errorf("not writable")
	}
	node := &BinaryNode{Tag: "iq", Attrs: map[string]string{"type": "get", "xmlns": "w:p"}}
	return c.sendNode(c.ctx, node)
}

// SendPresenceUpdate issues a cheap protocol round-trip used by the health
// checker.
func (c *Connection) SendPresenceUpdate() error {
	if !c.IsWritable() {
		return fmt.Errorf("not writable")
	}
	node := &BinaryNode{Tag: "presence", Attrs: map[string]string{"type": "available"}}
	return c.sendNode(c.ctx, node)
}

// SendMessage sends a text message and returns the protocol message id.
func (c *Connection) SendMessage(to, text string) (string, error) {
	if !c.IsWritable() {
		return "", fmt.Errorf("not writable")
	}
	id := generateRef()
	node := &BinaryNode{
		Tag:     "message",
		Attrs:   map[string]string{"to": to, "id": id, "type": "text"},
		Content: []byte(text),
	}
	if err := c.sendNode(c.ctx, node); err != nil {
		return "", err
	}
	return id, nil
}

// RequestPairingCode requests an alternate pairing code for phoneE164 (digits
// only, no leading '+').
func (c *Connection) RequestPairingCode(phoneE164 string) (string, error) {
	if !c.IsWritable() {
		return "", fmt.Errorf("not writable")
	}
	node := &BinaryNode{
		Tag:     "iq",
		Attrs:   map[string]string{"type": "set", "xmlns": "md"},
		Content: []byte(phoneE164),
	}
	if err := c.sendNode(c.ctx, node); err != nil {
		return "", err
	}
	return generatePairingCode(), nil
}

// Logout instructs the remote side to deauthorize this session's credentials.
func (c *Connection) Logout() error {
	if !c.IsWritable() {
		return nil
	}
	node := &BinaryNode{Tag: "iq", Attrs: map[string]string{"type": "set", "xmlns": "md", "to": "s.whatsapp.net"}, Content: []byte("remove-companion-device")}
	return c.sendNode(c.ctx, node)
}

func generateRef() string {
	return fmt.Sprintf("%d", time.Now().UnixMilli())
}

func generatePairingCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	now := time.Now().UnixNano()
	code := make([]byte, 8)
	for i := range code {
		code[i] = alphabet[(now>>uint(i*5))%int64(len(alphabet))]
	}
	return string(code[:4]) + "-" + string(code[4:])
}
