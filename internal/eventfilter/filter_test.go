package eventfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldSendEventEmptyAllowDenyAdmitsAll(t *testing.T) {
	f := New(Config{})
	require.True(t, f.ShouldSendEvent("messages.upsert"))
	require.True(t, f.ShouldSendEvent("anything"))
}

func TestShouldSendEventDeniedWins(t *testing.T) {
	f := New(Config{AllowedEvents: []string{"messages.upsert"}, DeniedEvents: []string{"messages.upsert"}})
	require.False(t, f.ShouldSendEvent("messages.upsert"))
}

func TestShouldSendEventAllowedListRestricts(t *testing.T) {
	f := New(Config{AllowedEvents: []string{"messages.upsert"}})
	require.True(t, f.ShouldSendEvent("messages.upsert"))
	require.False(t, f.ShouldSendEvent("presence.update"))
}

func TestSkipStatusDropsBroadcast(t *testing.T) {
	f := New(Config{SkipStatus: true})
	require.False(t, f.ShouldSendMessage(Message{RemoteJID: "123@broadcast"}))
	require.False(t, f.ShouldSendMessage(Message{RemoteJID: "status@broadcast"}))

	f2 := New(Config{SkipStatus: false})
	require.True(t, f2.ShouldSendMessage(Message{RemoteJID: "123@broadcast"}))
}

func TestSkipGroupsAndChannels(t *testing.T) {
	f := New(Config{SkipGroups: true, SkipChannels: true})
	require.False(t, f.ShouldSendMessage(Message{RemoteJID: "123@g.us"}))
	require.False(t, f.ShouldSendMessage(Message{RemoteJID: "123@newsletter"}))
	require.True(t, f.ShouldSendMessage(Message{RemoteJID: "123@s.whatsapp.net"}))
}

func TestShouldSendMessageRequiresRemoteJID(t *testing.T) {
	f := New(DefaultConfig())
	require.False(t, f.ShouldSendMessage(Message{RemoteJID: ""}))
}

func TestFilterMessagesAllFilteredYieldsEmptyNotNil(t *testing.T) {
	f := New(Config{SkipGroups: true, SkipStatus: true})
	out := f.FilterMessages([]Message{
		{RemoteJID: "1@g.us"},
		{RemoteJID: "2@broadcast"},
	})
	require.NotNil(t, out)
	require.Len(t, out, 0)
}
