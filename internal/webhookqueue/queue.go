// Package webhookqueue implements the webhook delivery engine: a durable FIFO
// queue backed by the KV store, a single worker with bounded concurrency,
// per-message retry with exponential backoff, and a dead-letter queue.
package webhookqueue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/waconnect/waconnect-go/internal/apperror"
	"github.com/waconnect/waconnect-go/internal/bufjson"
	"github.com/waconnect/waconnect-go/internal/config"
	"github.com/waconnect/waconnect-go/internal/kv"
	"go.uber.org/zap"
)

const (
	queueKey      = "webhook:queue"
	processingKey = "webhook:processing"
	failedKey     = "webhook:failed"
	scratchKey    = "webhook:retry-scratch"

	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
)

// Job is a single record enqueued for webhook delivery.
type Job struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"sessionId"`
	Event       string   `json:"event"`
	Payload     any      `json:"payload"`
	Ts          int64    `json:"ts"`
	Attempts    int      `json:"attempts"`
	LastAttempt int64    `json:"lastAttempt,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Stats reports current queue depths.
type Stats struct {
	Pending      int64 `json:"pending"`
	Processing   int64 `json:"processing"`
	Failed       int64 `json:"failed"`
	IsProcessing bool  `json:"isProcessing"`
}

// Engine is the webhook delivery engine. Exactly one worker runs per process
// via Run.
type Engine struct {
	cfg    config.WebhookConfig
	kv     kv.Store
	logger *zap.SugaredLogger
	client httpDoer

	batchSize  int
	maxRetries int
	retryDelay time.Duration

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New constructs a webhook Engine.
func New(cfg config.WebhookConfig, store kv.Store, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:        cfg,
		kv:         store,
		logger:     logger,
		client:     newHTTPClient(10 * time.Second),
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
}

// Enqueue persists a new WebhookJob for delivery. Returns ok=false with no
// error when no sink is configured (WEBHOOK_URL empty) — enqueue always
// "succeeds" in the sense of never surfacing a delivery error to the
// producer.
func (e *Engine) Enqueue(ctx context.Context, sessionID, event string, payload any) (id string, ok bool, err error) {
	if e.cfg.URL == "" {
		return "", false, nil
	}

	job := Job{
		ID:        "job_" + uuid.New().String(),
		SessionID: sessionID,
		Event:     event,
		Payload:   payload,
		Ts:        time.Now().UnixMilli(),
	}

	raw, err := bufjson.Marshal(job)
	if err != nil {
		return "", false, apperror.Wrap(apperror.KindStore, "encode webhook job", err)
	}

	if err := e.kv.LPushHead(ctx, queueKey, string(raw)); err != nil {
		return "", false, apperror.Wrap(apperror.KindStore, "enqueue webhook job", err)
	}

	return job.ID, true, nil
}

// Stats returns current queue depths.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	pending, err := e.kv.LLen(ctx, queueKey)
	if err != nil {
		return Stats{}, apperror.Wrap(apperror.KindStore, "stats pending", err)
	}
	processing, err := e.kv.LLen(ctx, processingKey)
	if err != nil {
		return Stats{}, apperror.Wrap(apperror.KindStore, "stats processing", err)
	}
	failed, err := e.kv.LLen(ctx, failedKey)
	if err != nil {
		return Stats{}, apperror.Wrap(apperror.KindStore, "stats failed", err)
	}
	return Stats{Pending: pending, Processing: processing, Failed: failed, IsProcessing: e.running}, nil
}

// RetryFailed moves up to n jobs from failed back to the head of queue,
// resetting attempts=0 and errors=[]. Returns the number actually moved.
func (e *Engine) RetryFailed(ctx context.Context, n int) (int, error) {
	moved := 0
	for i := 0; i < n; i++ {
		raw, ok, err := e.kv.RPopLPushTail(ctx, failedKey, scratchKey)
		if err != nil {
			return moved, apperror.Wrap(apperror.KindStore, "retry failed pop", err)
		}
		if !ok {
			break
		}

		var job Job
		if err := bufjson.Unmarshal([]byte(raw), &job); err != nil {
			e.logger.Errorf("webhook retry: corrupt job skipped: %v", err)
			_ = e.kv.LRemove(ctx, scratchKey, raw)
			continue
		}

		job.Attempts = 0
		job.Errors = nil

		newRaw, err := bufjson.Marshal(job)
		if err != nil {
			return moved, apperror.Wrap(apperror.KindStore, "retry failed encode", err)
		}
		if err := e.kv.LPushHead(ctx, queueKey, string(newRaw)); err != nil {
			return moved, apperror.Wrap(apperror.KindStore, "retry failed push", err)
		}
		_ = e.kv.LRemove(ctx, scratchKey, raw)
		moved++
	}
	return moved, nil
}

// authHeaderValue returns the header name and value for an outbound POST, per
// the configured auth type; both are empty when no auth type is set.
func authHeaderValue(cfg config.WebhookConfig) (name, value string) {
	switch cfg.AuthType {
	case config.WebhookAuthBasic:
		encoded := base64.StdEncoding.EncodeToString([]byte(cfg.AuthUser + ":" + cfg.AuthPassword))
		return "Authorization", "Basic " + encoded
	case config.WebhookAuthToken:
		return "Authorization", "Token " + cfg.AuthToken
	case config.WebhookAuthBearer:
		return "Authorization", "Bearer " + cfg.AuthToken
	default:
		return "", ""
	}
}

// body is the JSON envelope POSTed to the sink.
type body struct {
	SessionID string `json:"sessionId"`
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
	Ts        int64  `json:"ts"`
}

func (j Job) requestBody() ([]byte, error) {
	return json.Marshal(body{SessionID: j.SessionID, Event: j.Event, Payload: j.Payload, Ts: j.Ts})
}

func fmtErr(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
