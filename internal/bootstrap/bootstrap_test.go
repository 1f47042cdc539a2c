package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/waconnect/waconnect-go/internal/authstore"
	"github.com/waconnect/waconnect-go/internal/config"
	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/eventfilter"
	"github.com/waconnect/waconnect-go/internal/kv"
	"github.com/waconnect/waconnect-go/internal/session"
	"github.com/waconnect/waconnect-go/internal/webhookqueue"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	l, _ := zap.NewDevelopment()
	return l.Sugar()
}

func TestResurrectColdBootstrapNoSessions(t *testing.T) {
	backing := kv.NewFake()
	store := authstore.New(backing)
	registry := session.New(store, eventfilter.New(eventfilter.DefaultConfig()),
		webhookqueue.New(config.WebhookConfig{}, backing, testLogger()), config.Config{}, testLogger())

	n, err := Resurrect(context.Background(), store, registry, testLogger())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, registry.List())
}

func TestResurrectEnsuresEverySessionWithPersistedCreds(t *testing.T) {
	backing := kv.NewFake()
	store := authstore.New(backing)
	ctx := context.Background()

	_, save1, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, save1())
	_, save2, err := store.Load(ctx, "beta")
	require.NoError(t, err)
	require.NoError(t, save2())

	registry := session.New(store, eventfilter.New(eventfilter.DefaultConfig()),
		webhookqueue.New(config.WebhookConfig{}, backing, testLogger()), config.Config{}, testLogger())
	registry.SetTransportFactory(func(core.ConnectionConfig) core.Transport {
		return newNoopTransport()
	})

	n, err := Resurrect(ctx, store, registry, testLogger())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Eventually(t, func() bool { return len(registry.List()) == 2 }, time.Second, 5*time.Millisecond)
}

// noopTransport is a minimal core.Transport that never emits events, used to
// exercise bootstrap without core.Connection's real WebSocket dialing.
type noopTransport struct {
	events chan core.Event
}

func newNoopTransport() *noopTransport {
	return &noopTransport{events: make(chan core.Event)}
}

func (n *noopTransport) Connect() error                  { return nil }
func (n *noopTransport) Events() <-chan core.Event        { return n.events }
func (n *noopTransport) Close() error                     { return nil }
func (n *noopTransport) IsWritable() bool                 { return true }
func (n *noopTransport) Ping() error                      { return nil }
func (n *noopTransport) SendPresenceUpdate() error        { return nil }
func (n *noopTransport) SendMessage(to, text string) (string, error) { return "msg", nil }
func (n *noopTransport) RequestPairingCode(phone string) (string, error) { return "code", nil }
func (n *noopTransport) Logout() error                    { return nil }
