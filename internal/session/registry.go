package session

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/waconnect/waconnect-go/internal/apperror"
	"github.com/waconnect/waconnect-go/internal/authstore"
	"github.com/waconnect/waconnect-go/internal/config"
	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/eventfilter"
	"github.com/waconnect/waconnect-go/internal/webhookqueue"
	"go.uber.org/zap"
)

// validID matches the session id constraint named in spec.md §3.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// TransportFactory builds the Transport a session's supervisor drives. The
// default wraps core.NewConnection; tests substitute a fake.
type TransportFactory func(cfg core.ConnectionConfig) core.Transport

func defaultTransportFactory(cfg core.ConnectionConfig) core.Transport {
	return core.NewConnection(cfg)
}

// Registry is the Session Supervisor's session registry: the single
// in-memory map of live sessions, mutated only by create/destroy.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	auth     *authstore.Store
	filter   *eventfilter.Filter
	webhooks *webhookqueue.Engine
	cfg      config.Config
	logger   *zap.SugaredLogger

	newTransport TransportFactory
}

// New constructs a Registry wired to its dependencies (leaf services first,
// per the gateway's dependency order).
func New(auth *authstore.Store, filter *eventfilter.Filter, webhooks *webhookqueue.Engine, cfg config.Config, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		auth:         auth,
		filter:       filter,
		webhooks:     webhooks,
		cfg:          cfg,
		logger:       logger,
		newTransport: defaultTransportFactory,
	}
}

// SetTransportFactory overrides how transports are constructed. Exposed for
// tests; production wiring uses the default.
func (r *Registry) SetTransportFactory(f TransportFactory) {
	r.newTransport = f
}

// Ensure is idempotent: it returns the existing session for id, or creates
// and starts a new supervisor for it.
func (r *Registry) Ensure(ctx context.Context, id string) (*Session, error) {
	if existing, ok := r.Get(id); ok {
		return existing, nil
	}

	if !validID.MatchString(id) {
		return nil, apperror.New(apperror.KindValidation, "session id must match [A-Za-z0-9_-]{1,128}: "+id)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}

	authState, saveCreds, err := r.auth.Load(ctx, id)
	if err != nil {
		r.mu.Unlock()
		return nil, apperror.Wrap(apperror.KindStore, "load auth state for "+id, err)
	}

	sess := newSession(id, authState, saveCreds, r.logger.With("session", id))
	r.sessions[id] = sess
	r.mu.Unlock()

	r.start(sess)
	return sess, nil
}

// Get returns the in-memory session for id, if one exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a summary of every registered session.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	ids := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		ids = append(ids, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(ids))
	for _, s := range ids {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remove drops a session from the registry without touching its transport;
// callers must have already torn the session down.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Shutdown tears down every live session: it cancels each session's
// root context (stopping its event loop, liveness loops, and any pending
// reconnect) and closes its transport. Used on process shutdown, per
// spec.md §5's "disconnect all sessions" step.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		cancel := sess.cancel
		transport := sess.transport
		sess.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if transport != nil {
			_ = transport.Close()
		}
	}
}

func (r *Registry) buildConnectionConfig(sess *Session) core.ConnectionConfig {
	return core.ConnectionConfig{
		SessionID:        sess.ID,
		AuthState:        sess.authState,
		ConnectTimeoutMs: 60000,
		QRTimeoutMs:      60000,
		Logger:           sess.logger,
		OnCredsUpdate:    r.onCredsUpdate(sess),
	}
}

// onCredsUpdate persists updated credentials before the caller (the
// transport's auth handler) is allowed to report status=open, per spec.md's
// "creds.update → saveCreds() completes before open" ordering guarantee.
func (r *Registry) onCredsUpdate(sess *Session) func(*core.Credentials) error {
	return func(creds *core.Credentials) error {
		sess.mu.Lock()
		sess.authState.Creds = creds
		saveCreds := sess.saveCreds
		sess.mu.Unlock()
		return saveCreds()
	}
}
