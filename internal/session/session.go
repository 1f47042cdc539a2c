// Package session is the Session Supervisor: it owns each tenant's Transport,
// drives its connection state machine, runs keep-alive and health checks, and
// self-heals via bounded exponential-backoff reconnection.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/ttlcache"
	"go.uber.org/zap"
)

// Status is a session's externally-observable lifecycle state.
type Status string

const (
	StatusInit                Status = "init"
	StatusConnecting          Status = "connecting"
	StatusOpen                Status = "open"
	StatusClose               Status = "close"
	StatusInvalidCredentials  Status = "invalid_credentials"
	StatusConnectionLost      Status = "connection_lost"
)

const (
	messageCacheTTL = 6 * time.Hour
	contactCacheTTL = 6 * time.Hour
	groupCacheTTL   = 5 * time.Minute
)

// Session is one tenant's connection. All field access goes through the
// mutex: the event loop, the liveness loops, reconnect goroutines and the
// API-facing operations (Restart, Logout, SendText) write under it, and
// API-facing reads (List, ActualStatus) take a consistent snapshot under the
// same lock.
type Session struct {
	ID string

	mu                 sync.Mutex
	status             Status
	transport          core.Transport
	authState          *core.AuthState
	saveCreds          func() error
	lastQR             string
	qrGeneratedAt      int64
	connectedAt        int64
	lastActivity       int64
	reconnectAttempts  int
	lastPongReceivedAt int64
	missedPongs        int
	loggedOut          bool

	messages *ttlcache.Cache[core.Message]
	contacts *ttlcache.Cache[string]
	groups   *ttlcache.Cache[any]

	ctx        context.Context // session-lifetime root context
	cancel     func()          // stops every background goroutine owned by this session, permanently
	connCtx    context.Context // scoped to the current connection attempt
	connCancel func()          // stops goroutines scoped to the current connection attempt
	logger     *zap.SugaredLogger
}

func newSession(id string, authState *core.AuthState, saveCreds func() error, logger *zap.SugaredLogger) *Session {
	return &Session{
		ID:           id,
		status:       StatusInit,
		authState:    authState,
		saveCreds:    saveCreds,
		lastActivity: nowMs(),
		messages:     ttlcache.New[core.Message](messageCacheTTL),
		contacts:     ttlcache.New[string](contactCacheTTL),
		groups:       ttlcache.New[any](groupCacheTTL),
		logger:       logger,
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Summary is the public, read-only view of a Session returned by List.
type Summary struct {
	ID                string `json:"id"`
	Status            Status `json:"status"`
	IsAuthenticated   bool   `json:"isAuthenticated"`
	HasQR             bool   `json:"hasQR"`
	CredentialsValid  bool   `json:"credentialsValid"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
}

// ActualStatus is the computed, consistent view of a session's connectivity.
type ActualStatus struct {
	ActualStatus     Status `json:"actualStatus"`
	IsAuthenticated  bool   `json:"isAuthenticated"`
	CredentialsValid bool   `json:"credentialsValid"`
	WSState          string `json:"wsState"`
	BaileyStatus     string `json:"baileyStatus"`
}

func (s *Session) credentialsValid() bool {
	return s.authState != nil && s.authState.Creds != nil && s.authState.Creds.Me.ID != ""
}

func (s *Session) summary() Summary {
	return Summary{
		ID:                s.ID,
		Status:            s.status,
		IsAuthenticated:   s.status == StatusOpen,
		HasQR:             s.lastQR != "",
		CredentialsValid:  s.credentialsValid(),
		ReconnectAttempts: s.reconnectAttempts,
	}
}

// Summary returns a consistent snapshot of this session's public state.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary()
}

// ActualStatus computes a consistent view of connectivity from
// {status, authState, transport readiness}, per spec.md §4.1.
func (s *Session) ActualStatus() ActualStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	actual := s.status
	writable := s.transport != nil && s.transport.IsWritable()
	if actual == StatusOpen && !writable {
		actual = StatusClose
	}
	if !s.credentialsValid() && actual != StatusInit {
		actual = StatusInvalidCredentials
	}

	wsState := "closed"
	if writable {
		wsState = "open"
	}

	return ActualStatus{
		ActualStatus:     actual,
		IsAuthenticated:  s.status == StatusOpen,
		CredentialsValid: s.credentialsValid(),
		WSState:          wsState,
		BaileyStatus:     string(s.status),
	}
}

// QR returns the current pairing string, if any.
func (s *Session) QR() (qr string, generatedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQR, s.qrGeneratedAt
}
