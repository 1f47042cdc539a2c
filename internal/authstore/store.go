// Package authstore is the durable, binary-safe auth credential store: it
// persists {creds, signalKeys} behind the narrow interface the Session
// Supervisor depends on, backed by an external key-value service.
package authstore

import (
	"context"
	"fmt"

	"github.com/waconnect/waconnect-go/internal/apperror"
	"github.com/waconnect/waconnect-go/internal/bufjson"
	"github.com/waconnect/waconnect-go/internal/core"
	"github.com/waconnect/waconnect-go/internal/kv"
)

const scanPageSize = 1000

// Store is the auth credential store.
type Store struct {
	kv kv.Store
}

// New wraps kv as an auth credential store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func credsKey(sessionID string) string {
	return fmt.Sprintf("wa:%s:creds", sessionID)
}

func keyPrefix(sessionID string) string {
	return fmt.Sprintf("wa:%s:", sessionID)
}

func signalKey(sessionID, category, id string) string {
	return fmt.Sprintf("wa:%s:%s-%s", sessionID, category, id)
}

// Load returns the persisted state for sessionID (or a freshly initialized
// document on first use) along with a SaveCreds closure that atomically
// persists state.Creds.
func (s *Store) Load(ctx context.Context, sessionID string) (*core.AuthState, func() error, error) {
	creds := &core.Credentials{}

	raw, err := s.kv.Get(ctx, credsKey(sessionID))
	switch {
	case err == nil:
		if decodeErr := bufjson.Unmarshal([]byte(raw), creds); decodeErr != nil {
			return nil, nil, apperror.Wrap(apperror.KindStore, "decode creds", decodeErr)
		}
	case err == kv.ErrNotFound:
		// fresh document
	default:
		return nil, nil, apperror.Wrap(apperror.KindStore, "load creds", err)
	}

	state := &core.AuthState{
		Creds: creds,
		Keys:  &signalKeyStore{kv: s.kv, sessionID: sessionID},
	}

	saveCreds := func() error {
		data, err := bufjson.Marshal(state.Creds)
		if err != nil {
			return apperror.Wrap(apperror.KindStore, "encode creds", err)
		}
		if err := s.kv.Set(ctx, credsKey(sessionID), string(data)); err != nil {
			return apperror.Wrap(apperror.KindStore, "save creds", err)
		}
		return nil
	}

	return state, saveCreds, nil
}

// EraseSession deletes every persisted key for sessionID: `wa:<id>:*`.
func (s *Store) EraseSession(ctx context.Context, sessionID string) error {
	keys, err := s.kv.ScanKeys(ctx, keyPrefix(sessionID)+"*", scanPageSize)
	if err != nil {
		return apperror.Wrap(apperror.KindStore, "scan session keys", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return apperror.Wrap(apperror.KindStore, "delete session keys", err)
	}
	return nil
}

// DiscoverSessionIDs scans for every distinct session id with persisted
// credentials, via the pattern `wa:*` (bootstrap resurrector).
func (s *Store) DiscoverSessionIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ScanKeys(ctx, "wa:*", scanPageSize)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStore, "scan wa keys", err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, k := range keys {
		id, ok := parseSessionID(k)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseSessionID extracts <id> from `wa:<id>:...` per spec.md's pattern
// `^wa:([^:]+):.+$`.
func parseSessionID(key string) (string, bool) {
	if len(key) < 4 || key[:3] != "wa:" {
		return "", false
	}
	rest := key[3:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			if i == 0 || i == len(rest)-1 {
				return "", false
			}
			return rest[:i], true
		}
	}
	return "", false
}

// signalKeyStore implements core.SignalKeyStore against kv.
type signalKeyStore struct {
	kv        kv.Store
	sessionID string
}

func (k *signalKeyStore) Get(category string, ids []string) (map[string][]byte, error) {
	ctx := context.Background()
	out := make(map[string][]byte, len(ids))
	for _, id := range ids {
		raw, err := k.kv.Get(ctx, signalKey(k.sessionID, category, id))
		if err == kv.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, apperror.Wrap(apperror.KindStore, "get signal key", err)
		}
		var value []byte
		if err := bufjson.Unmarshal([]byte(raw), &value); err != nil {
			return nil, apperror.Wrap(apperror.KindStore, "decode signal key", err)
		}
		out[id] = value
	}
	return out, nil
}

// Set performs bulk writes in a single pipelined batch, per spec.md §4.2.
func (k *signalKeyStore) Set(data map[string]map[string][]byte) error {
	ctx := context.Background()
	batch := make(map[string]string)
	for category, byID := range data {
		for id, value := range byID {
			encoded, err := bufjson.Marshal(value)
			if err != nil {
				return apperror.Wrap(apperror.KindStore, "encode signal key", err)
			}
			batch[signalKey(k.sessionID, category, id)] = string(encoded)
		}
	}
	if err := k.kv.SetMany(ctx, batch); err != nil {
		return apperror.Wrap(apperror.KindStore, "set signal keys", err)
	}
	return nil
}

// Clear uses a cursor scan (page size 1000), never a blocking enumerate-all
// primitive, per spec.md §4.2.
func (k *signalKeyStore) Clear(category string) error {
	ctx := context.Background()
	pattern := fmt.Sprintf("wa:%s:%s-*", k.sessionID, category)
	keys, err := k.kv.ScanKeys(ctx, pattern, scanPageSize)
	if err != nil {
		return apperror.Wrap(apperror.KindStore, "scan signal keys", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := k.kv.Delete(ctx, keys...); err != nil {
		return apperror.Wrap(apperror.KindStore, "clear signal keys", err)
	}
	return nil
}

var _ core.SignalKeyStore = (*signalKeyStore)(nil)
