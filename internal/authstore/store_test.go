package authstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waconnect/waconnect-go/internal/kv"
)

func TestLoadFreshDocumentThenSaveRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := New(kv.NewFake())

	state, saveCreds, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, "", state.Creds.Me.ID)

	state.Creds.Me.ID = "1234@s.whatsapp.net"
	state.Creds.NoiseKey = []byte{0x01, 0x02, 0x03}
	require.NoError(t, saveCreds())

	state2, _, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, "1234@s.whatsapp.net", state2.Creds.Me.ID)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, state2.Creds.NoiseKey)
}

func TestSignalKeysSetGetClear(t *testing.T) {
	ctx := context.Background()
	store := New(kv.NewFake())
	state, _, err := store.Load(ctx, "alpha")
	require.NoError(t, err)

	require.NoError(t, state.Keys.Set(map[string]map[string][]byte{
		"pre-key": {
			"1": []byte{0xAA},
			"2": []byte{0xBB},
		},
	}))

	got, err := state.Keys.Get("pre-key", []string{"1", "2", "3"})
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA}, got["1"])
	require.Equal(t, []byte{0xBB}, got["2"])
	_, missing := got["3"]
	require.False(t, missing)

	require.NoError(t, state.Keys.Clear("pre-key"))
	got, err = state.Keys.Get("pre-key", []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, got, 0)
	_ = ctx
}

func TestEraseSessionRemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewFake()
	store := New(backing)

	state, saveCreds, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	state.Creds.Me.ID = "x"
	require.NoError(t, saveCreds())
	require.NoError(t, state.Keys.Set(map[string]map[string][]byte{"app": {"1": {0x1}}}))

	_, saveOther, err := store.Load(ctx, "beta")
	require.NoError(t, err)
	require.NoError(t, saveOther())

	require.NoError(t, store.EraseSession(ctx, "alpha"))

	keys, err := backing.ScanKeys(ctx, "wa:alpha:*", 1000)
	require.NoError(t, err)
	require.Len(t, keys, 0)

	keys, err = backing.ScanKeys(ctx, "wa:beta:*", 1000)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestDiscoverSessionIDs(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewFake()
	store := New(backing)

	_, save1, _ := store.Load(ctx, "alpha")
	require.NoError(t, save1())
	_, save2, _ := store.Load(ctx, "beta")
	require.NoError(t, save2())

	ids, err := store.DiscoverSessionIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, ids)
}
