// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

// EventKind names one of the protocol events a Transport can emit. It mirrors the
// event taxonomy of the chat-protocol library this gateway fronts.
type EventKind string

const (
	EventConnectionUpdate     EventKind = "connection.update"
	EventCredsUpdate          EventKind = "creds.update"
	EventMessagesUpsert       EventKind = "messages.upsert"
	EventMessagesUpdate       EventKind = "messages.update"
	EventMessagesDelete       EventKind = "messages.delete"
	EventMessagesReaction     EventKind = "messages.reaction"
	EventMessageReceiptUpdate EventKind = "message-receipt.update"
	EventChatsUpsert          EventKind = "chats.upsert"
	EventChatsUpdate          EventKind = "chats.update"
	EventChatsDelete          EventKind = "chats.delete"
	EventContactsUpsert       EventKind = "contacts.upsert"
	EventContactsUpdate       EventKind = "contacts.update"
	EventGroupsUpsert         EventKind = "groups.upsert"
	EventGroupsUpdate         EventKind = "groups.update"
	EventGroupParticipants    EventKind = "group-participants.update"
	EventMessagingHistorySet  EventKind = "messaging-history.set"
	EventPresenceUpdate       EventKind = "presence.update"
	EventCall                 EventKind = "call"
	EventBlocklistSet         EventKind = "blocklist.set"
	EventBlocklistUpdate      EventKind = "blocklist.update"
)

// ConnectionPhase is the value carried by a connection.update event's "connection"
// field.
type ConnectionPhase string

const (
	PhaseConnecting ConnectionPhase = "connecting"
	PhaseOpen       ConnectionPhase = "open"
	PhaseClose      ConnectionPhase = "close"
)

// Disconnect status codes the transport surfaces on a close event, mirroring the
// chat-protocol library's well-known boom codes.
const (
	StatusLoggedOut        = 401
	StatusRestartRequired  = 515
	StatusConnectionLost   = 408
	StatusTimedOut         = 408
	StatusConnectionClosed = 428
)

// ConnectionUpdate carries the fields relevant to the supervisor's state machine.
type ConnectionUpdate struct {
	Connection   ConnectionPhase
	QR           string
	StatusCode   int
	IsLoggedOut  bool
	ErrorMessage string
}

// Event is the single typed sum the supervisor dispatches on, replacing dynamic
// string-to-closure event binding.
type Event struct {
	Kind       EventKind
	Connection *ConnectionUpdate
	Creds      *Credentials
	Messages   []Message
	Raw        interface{}
}

// Message is a minimal chat message representation; full message-format handling
// (media envelopes, polls, etc.) is out of scope and left to the caller.
type Message struct {
	Key        MessageKey  `json:"key"`
	PushName   string      `json:"pushName,omitempty"`
	Message    interface{} `json:"message,omitempty"`
	MessageTs  int64       `json:"messageTimestamp,omitempty"`
}

// MessageKey identifies a message within a chat.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// Transport is the capability the Session Supervisor depends on: a long-lived
// encrypted connection to the chat network, provided by the underlying
// chat-protocol library. The core package's Connection is one implementation of
// it; tests substitute a fake.
type Transport interface {
	// Connect establishes the connection and begins delivering events on Events().
	// It returns once the initial dial (not the full auth flow) has completed.
	Connect() error
	// Events returns the channel the supervisor reads typed events from.
	Events() <-chan Event
	// Close tears down the connection. Safe to call more than once.
	Close() error
	// IsWritable reports whether the underlying socket can currently accept writes.
	IsWritable() bool
	// Ping sends a transport-level keep-alive frame.
	Ping() error
	// SendPresenceUpdate issues a cheap protocol round-trip used by the health
	// checker to confirm liveness without sending a user-visible message.
	SendPresenceUpdate() error
	// SendMessage sends a text message to the given address and returns the
	// protocol message id.
	SendMessage(to, text string) (string, error)
	// RequestPairingCode requests an alternate (non-QR) pairing code for the given
	// E.164 phone number (without the leading '+').
	RequestPairingCode(phoneE164 string) (string, error)
	// Logout instructs the remote side to deauthorize this session's credentials.
	Logout() error
}
