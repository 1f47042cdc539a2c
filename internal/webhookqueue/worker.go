package webhookqueue

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/waconnect/waconnect-go/internal/bufjson"
)

// httpDoer lets tests substitute a fake transport without a live server.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) httpDoer {
	return &http.Client{Timeout: timeout}
}

// Run starts the single worker loop and blocks until ctx is cancelled or
// StopProcessing is called. It is intended to run in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	if e.cfg.URL == "" {
		e.logger.Infof("webhook engine: no WEBHOOK_URL configured, worker idle")
	}

	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	defer close(e.done)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.running = false
			return
		case <-e.stop:
			e.running = false
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// StopProcessing signals the worker loop to exit and waits for it to drain.
func (e *Engine) StopProcessing() {
	if !e.running || e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
}

func (e *Engine) tick(ctx context.Context) {
	batch := e.claimBatch(ctx)
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, raw := range batch {
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			e.deliver(ctx, raw)
		}(raw)
	}
	wg.Wait()
}

// claimBatch moves up to batchSize jobs from queue to processing, tail-first,
// preserving FIFO order.
func (e *Engine) claimBatch(ctx context.Context) []string {
	var batch []string
	for i := 0; i < e.batchSize; i++ {
		raw, ok, err := e.kv.RPopLPushTail(ctx, queueKey, processingKey)
		if err != nil {
			e.logger.Errorf("webhook claim batch: %v", err)
			break
		}
		if !ok {
			break
		}
		batch = append(batch, raw)
	}
	return batch
}

func (e *Engine) deliver(ctx context.Context, raw string) {
	var job Job
	if err := bufjson.Unmarshal([]byte(raw), &job); err != nil {
		e.logger.Errorf("webhook deliver: corrupt job dropped: %v", err)
		_ = e.kv.LRemove(ctx, processingKey, raw)
		return
	}

	if err := e.post(ctx, job); err != nil {
		e.retry(ctx, raw, job, err)
		return
	}

	if err := e.kv.LRemove(ctx, processingKey, raw); err != nil {
		e.logger.Errorf("webhook deliver: remove processed job: %v", err)
	}
}

func (e *Engine) post(ctx context.Context, job Job) error {
	payload, err := job.requestBody()
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if name, value := authHeaderValue(e.cfg); name != "" {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

// retry removes the job from processing and either re-enqueues it after a
// backoff delay or, past maxRetries, moves it to the dead-letter queue.
func (e *Engine) retry(ctx context.Context, raw string, job Job, deliverErr error) {
	if err := e.kv.LRemove(ctx, processingKey, raw); err != nil {
		e.logger.Errorf("webhook retry: remove from processing: %v", err)
	}

	job.Attempts++
	job.LastAttempt = time.Now().UnixMilli()
	job.Errors = append(job.Errors, fmtErr("attempt %d: %v", job.Attempts, deliverErr))

	newRaw, err := bufjson.Marshal(job)
	if err != nil {
		e.logger.Errorf("webhook retry: encode job: %v", err)
		return
	}

	if job.Attempts < e.maxRetries {
		delay := e.retryDelay * time.Duration(1<<uint(job.Attempts-1))
		e.logger.Warnf("webhook job %s failed (attempt %d/%d), retrying in %s: %v",
			job.ID, job.Attempts, e.maxRetries, delay, deliverErr)
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			if err := e.kv.LPushHead(context.Background(), queueKey, string(newRaw)); err != nil {
				e.logger.Errorf("webhook retry: re-enqueue: %v", err)
			}
		}()
		return
	}

	e.logger.Errorf("webhook job %s exhausted retries, moving to dead-letter queue: %v", job.ID, deliverErr)
	if err := e.kv.LPushHead(ctx, failedKey, string(newRaw)); err != nil {
		e.logger.Errorf("webhook retry: push to failed: %v", err)
	}
}
