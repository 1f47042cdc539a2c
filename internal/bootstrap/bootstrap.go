// Package bootstrap is the Bootstrap Resurrector: on process start it
// discovers every session with persisted credentials and re-establishes it.
package bootstrap

import (
	"context"

	"github.com/waconnect/waconnect-go/internal/authstore"
	"github.com/waconnect/waconnect-go/internal/session"
	"go.uber.org/zap"
)

// Resurrect scans the auth store for every distinct persisted session id and
// calls registry.Ensure for each. A failure on one session is logged and does
// not abort the rest of the batch.
func Resurrect(ctx context.Context, store *authstore.Store, registry *session.Registry, logger *zap.SugaredLogger) (int, error) {
	ids, err := store.DiscoverSessionIDs(ctx)
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		logger.Infof("bootstrap: no persisted sessions found")
		return 0, nil
	}

	resurrected := 0
	for _, id := range ids {
		if _, err := registry.Ensure(ctx, id); err != nil {
			logger.Errorf("bootstrap: failed to resurrect session %s: %v", id, err)
			continue
		}
		resurrected++
	}

	logger.Infof("bootstrap: resurrected %d/%d persisted sessions", resurrected, len(ids))
	return resurrected, nil
}
