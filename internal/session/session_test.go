package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/waconnect/waconnect-go/internal/apperror"
	"github.com/waconnect/waconnect-go/internal/authstore"
	"github.com/waconnect/waconnect-go/internal/config"
	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/eventfilter"
	"github.com/waconnect/waconnect-go/internal/kv"
	"github.com/waconnect/waconnect-go/internal/webhookqueue"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	l, _ := zap.NewDevelopment()
	return l.Sugar()
}

func newTestRegistry(t *testing.T) (*Registry, chan *fakeTransport) {
	t.Helper()
	auth := authstore.New(kv.NewFake())
	filter := eventfilter.New(eventfilter.DefaultConfig())
	webhooks := webhookqueue.New(config.WebhookConfig{URL: "http://sink.example/hook"}, kv.NewFake(), testLogger())

	cfg := config.Config{
		Liveness: config.LivenessConfig{
			PingInterval:        20 * time.Millisecond,
			PongTimeout:         50 * time.Millisecond,
			MaxMissedPongs:      3,
			HealthCheckInterval: 50 * time.Millisecond,
			MaxIdleTime:         50 * time.Millisecond,
		},
		Reconnect: config.ReconnectConfig{AutoReconnect: true, MaxReconnectAttempts: 10},
	}

	reg := New(auth, filter, webhooks, cfg, testLogger())

	created := make(chan *fakeTransport, 10)
	reg.SetTransportFactory(func(core.ConnectionConfig) core.Transport {
		ft := newFakeTransport()
		created <- ft
		return ft
	})
	return reg, created
}

func TestEnsureIsIdempotent(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	s1, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	<-created

	s2, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	require.Same(t, s1, s2)

	select {
	case <-created:
		t.Fatal("a second transport was constructed for an already-ensured session")
	default:
	}
}

func TestEnsureRejectsInvalidSessionID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Ensure(ctx, "not a valid id!")
	require.Error(t, err)
	require.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestShutdownCancelsSessionsAndClosesTransports(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created

	reg.Shutdown()

	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return ft.closed
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionLifecycleReachesOpenThenClearsQR(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created

	ft.push(core.Event{Kind: core.EventConnectionUpdate, Connection: &core.ConnectionUpdate{
		Connection: core.PhaseConnecting, QR: "qr-data",
	}})
	require.Eventually(t, func() bool {
		qr, _ := sess.QR()
		return qr == "qr-data"
	}, time.Second, 5*time.Millisecond)

	sess.authState.Creds.Me.ID = "1234@s.whatsapp.net"
	ft.push(core.Event{Kind: core.EventConnectionUpdate, Connection: &core.ConnectionUpdate{
		Connection: core.PhaseOpen,
	}})

	require.Eventually(t, func() bool {
		return sess.Summary().Status == StatusOpen
	}, time.Second, 5*time.Millisecond)

	qr, _ := sess.QR()
	require.Empty(t, qr)
	require.Equal(t, 0, sess.Summary().ReconnectAttempts)
}

func TestMessagesUpsertCachesAndFiltersBeforeEnqueue(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created
	_ = ft

	ft.push(core.Event{
		Kind: core.EventMessagesUpsert,
		Messages: []core.Message{
			{Key: core.MessageKey{RemoteJID: "111@s.whatsapp.net", ID: "m1"}, PushName: "Alice"},
			{Key: core.MessageKey{RemoteJID: "status@broadcast", ID: "m2"}},
		},
	})

	require.Eventually(t, func() bool {
		stats, err := reg.webhooks.Stats(ctx)
		require.NoError(t, err)
		return stats.Pending == 1
	}, time.Second, 5*time.Millisecond)

	cached, ok := sess.messages.Get("m1")
	require.True(t, ok)
	require.Equal(t, "111@s.whatsapp.net", cached.Key.RemoteJID)

	name, ok := sess.contacts.Get("111@s.whatsapp.net")
	require.True(t, ok)
	require.Equal(t, "Alice", name)
}

func TestMessagesUpsertAllFilteredSuppressesEnqueue(t *testing.T) {
	reg, created := newTestRegistry(t)
	reg.filter = eventfilter.New(eventfilter.Config{SkipGroups: true, SkipStatus: true})
	ctx := context.Background()

	_, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created

	ft.push(core.Event{
		Kind: core.EventMessagesUpsert,
		Messages: []core.Message{
			{Key: core.MessageKey{RemoteJID: "grp@g.us", ID: "m1"}},
			{Key: core.MessageKey{RemoteJID: "status@broadcast", ID: "m2"}},
		},
	})

	time.Sleep(50 * time.Millisecond)
	stats, err := reg.webhooks.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Pending)
}

func TestLoggedOutDisconnectIsTerminal(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created

	ft.push(core.Event{Kind: core.EventConnectionUpdate, Connection: &core.ConnectionUpdate{
		Connection: core.PhaseClose, StatusCode: core.StatusLoggedOut, IsLoggedOut: true,
	}})

	require.Eventually(t, func() bool {
		return sess.Summary().Status == StatusClose
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sess.Summary().ReconnectAttempts)
	select {
	case <-created:
		t.Fatal("a reconnect transport was constructed after a logged-out disconnect")
	default:
	}
}

func TestConnectionLostSchedulesReconnectAttempt(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created
	sess.authState.Creds.Me.ID = "1234@s.whatsapp.net"

	ft.push(core.Event{Kind: core.EventConnectionUpdate, Connection: &core.ConnectionUpdate{
		Connection: core.PhaseClose, StatusCode: core.StatusConnectionLost,
	}})

	require.Eventually(t, func() bool {
		return sess.Summary().ReconnectAttempts == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, StatusConnectionLost, sess.Summary().Status)
}

func TestReconnectGivesUpAfterMaxAttemptsAndClosesTerminal(t *testing.T) {
	reg, created := newTestRegistry(t)
	reg.cfg.Reconnect.MaxReconnectAttempts = 0
	ctx := context.Background()

	sess, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created
	sess.authState.Creds.Me.ID = "1234@s.whatsapp.net"

	ft.push(core.Event{Kind: core.EventConnectionUpdate, Connection: &core.ConnectionUpdate{
		Connection: core.PhaseClose, StatusCode: core.StatusConnectionLost,
	}})

	require.Eventually(t, func() bool {
		return sess.Summary().Status == StatusClose
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, sess.Summary().ReconnectAttempts)
}

func TestSendTextRefusesWithoutValidCredentials(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	<-created

	_, err = reg.SendText(ctx, "alpha", "999@s.whatsapp.net", "hi")
	require.Error(t, err)
}

func TestSendTextSucceedsWhenOpen(t *testing.T) {
	reg, created := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Ensure(ctx, "alpha")
	require.NoError(t, err)
	ft := <-created

	sess.authState.Creds.Me.ID = "1234@s.whatsapp.net"
	ft.push(core.Event{Kind: core.EventConnectionUpdate, Connection: &core.ConnectionUpdate{Connection: core.PhaseOpen}})
	require.Eventually(t, func() bool { return sess.Summary().Status == StatusOpen }, time.Second, 5*time.Millisecond)

	id, err := reg.SendText(ctx, "alpha", "999@s.whatsapp.net", "hello")
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
}
