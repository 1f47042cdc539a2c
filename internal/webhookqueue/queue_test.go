package webhookqueue

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/waconnect/waconnect-go/internal/config"
	"github.com/waconnect/waconnect-go/internal/kv"
	"go.uber.org/zap"
)

// fakeDoer is a scriptable httpDoer: statuses[key][i] answers the i-th call
// whose request body contains key (the tests use session ids); the last entry
// repeats, and a body matching no key gets 500.
type fakeDoer struct {
	mu       sync.Mutex
	statuses map[string][]int
	calls    map[string]int
	bodies   []string
}

func newFakeDoer(statuses map[string][]int) *fakeDoer {
	return &fakeDoer{statuses: statuses, calls: make(map[string]int)}
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(req.Body)
	f.bodies = append(f.bodies, string(body))

	var jobID string
	for key := range f.statuses {
		if strings.Contains(string(body), key) {
			jobID = key
			break
		}
	}

	script := f.statuses[jobID]
	idx := f.calls[jobID]
	f.calls[jobID] = idx + 1

	status := 500
	if len(script) > 0 {
		if idx < len(script) {
			status = script[idx]
		} else {
			status = script[len(script)-1]
		}
	}

	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func testLogger() *zap.SugaredLogger {
	l, _ := zap.NewDevelopment()
	return l.Sugar()
}

func newTestEngine(cfg config.WebhookConfig, store kv.Store, doer httpDoer) *Engine {
	e := New(cfg, store, testLogger())
	e.client = doer
	e.retryDelay = 5 * time.Millisecond
	return e
}

func TestEnqueueWithoutSinkReturnsNoSink(t *testing.T) {
	store := kv.NewFake()
	e := New(config.WebhookConfig{}, store, testLogger())

	id, ok, err := e.Enqueue(context.Background(), "s1", "message", map[string]any{"x": 1})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, id)
}

func TestEnqueueThenStatsReportsPending(t *testing.T) {
	store := kv.NewFake()
	e := New(config.WebhookConfig{URL: "http://sink.example/hook"}, store, testLogger())

	ctx := context.Background()
	id, ok, err := e.Enqueue(ctx, "s1", "message", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, id)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
	require.Equal(t, int64(0), stats.Processing)
	require.Equal(t, int64(0), stats.Failed)
}

func TestDeliverySucceedsOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	store := kv.NewFake()
	cfg := config.WebhookConfig{URL: "http://sink.example/hook"}
	e := newTestEngine(cfg, store, newFakeDoer(map[string][]int{"ok-session": {200}}))

	_, _, err := e.Enqueue(ctx, "ok-session", "message", map[string]any{"k": "v"})
	require.NoError(t, err)

	e.tick(ctx)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Pending)
	require.Equal(t, int64(0), stats.Processing)
	require.Equal(t, int64(0), stats.Failed)
}

func TestJobRetriesThenLandsInFailedWithAttempts(t *testing.T) {
	ctx := context.Background()
	store := kv.NewFake()
	cfg := config.WebhookConfig{URL: "http://sink.example/hook"}
	e := newTestEngine(cfg, store, newFakeDoer(map[string][]int{"bad-session": {500, 500, 500}}))
	e.maxRetries = 3

	_, _, err := e.Enqueue(ctx, "bad-session", "message", map[string]any{"k": "v"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.tick(ctx)
		time.Sleep(20 * time.Millisecond) // let the scheduled re-enqueue land
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Pending)
	require.Equal(t, int64(0), stats.Processing)
	require.Equal(t, int64(1), stats.Failed)
}

func TestRetryFailedMovesJobsBackToQueueResettingAttempts(t *testing.T) {
	ctx := context.Background()
	store := kv.NewFake()
	cfg := config.WebhookConfig{URL: "http://sink.example/hook"}
	e := newTestEngine(cfg, store, newFakeDoer(map[string][]int{"dead-session": {500, 500, 500}}))
	e.maxRetries = 3

	_, _, err := e.Enqueue(ctx, "dead-session", "message", map[string]any{"k": "v"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.tick(ctx)
		time.Sleep(20 * time.Millisecond)
	}

	statsBefore, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), statsBefore.Failed)

	moved, err := e.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	statsAfter, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), statsAfter.Pending)
	require.Equal(t, int64(0), statsAfter.Failed)
}

func TestAuthHeaderValueVariants(t *testing.T) {
	name, value := authHeaderValue(config.WebhookConfig{AuthType: config.WebhookAuthBasic, AuthUser: "u", AuthPassword: "p"})
	require.Equal(t, "Authorization", name)
	require.Equal(t, "Basic dTpw", value)

	name, value = authHeaderValue(config.WebhookConfig{AuthType: config.WebhookAuthToken, AuthToken: "tok"})
	require.Equal(t, "Authorization", name)
	require.Equal(t, "Token tok", value)

	name, value = authHeaderValue(config.WebhookConfig{AuthType: config.WebhookAuthBearer, AuthToken: "tok"})
	require.Equal(t, "Bearer tok", value)

	name, value = authHeaderValue(config.WebhookConfig{})
	require.Empty(t, name)
	require.Empty(t, value)
}
