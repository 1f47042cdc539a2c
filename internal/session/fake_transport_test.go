package session

import (
	"sync"

	"github.com/waconnect/waconnect-go/internal/core"
)

// fakeTransport is a scriptable core.Transport for tests: it lets a test push
// events onto the channel the supervisor reads from, and records calls made
// against it.
type fakeTransport struct {
	mu sync.Mutex

	events    chan core.Event
	writable  bool
	closed    bool
	pings     int
	presences int
	sent      []string
	pairCode  string
	loggedOut bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:   make(chan core.Event, 64),
		writable: true,
		pairCode: "1234-5678",
	}
}

func (f *fakeTransport) Connect() error { return nil }

func (f *fakeTransport) Events() <-chan core.Event { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) IsWritable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writable && !f.closed
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTransport) SendPresenceUpdate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences++
	return nil
}

func (f *fakeTransport) SendMessage(to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+text)
	return "msg-1", nil
}

func (f *fakeTransport) RequestPairingCode(phoneE164 string) (string, error) {
	return f.pairCode, nil
}

func (f *fakeTransport) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

// push sends an event to the supervisor's event loop, blocking only as long
// as the buffered channel requires.
func (f *fakeTransport) push(ev core.Event) {
	f.events <- ev
}
