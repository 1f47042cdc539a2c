// Package eventfilter decides which protocol events and messages are
// eligible for webhook delivery.
package eventfilter

import "strings"

// Config enumerates the filter toggles, defaulted per spec.md §9(c): the
// conservative set (skipGroups=false, skipChannels=true, skipStatus=true).
type Config struct {
	SkipStatus   bool
	SkipGroups   bool
	SkipChannels bool
	SkipBlocked  bool // reserved; no-op in the core

	AllowedEvents []string // empty = allow all
	DeniedEvents  []string
}

// DefaultConfig returns the conservative defaults spec.md §9(c) picks.
func DefaultConfig() Config {
	return Config{
		SkipStatus:   true,
		SkipGroups:   false,
		SkipChannels: true,
	}
}

// Filter applies Config's rules to event names and message addresses.
type Filter struct {
	cfg     Config
	allowed map[string]struct{}
	denied  map[string]struct{}
}

// New builds a Filter from cfg.
func New(cfg Config) *Filter {
	f := &Filter{cfg: cfg}
	if len(cfg.AllowedEvents) > 0 {
		f.allowed = toSet(cfg.AllowedEvents)
	}
	if len(cfg.DeniedEvents) > 0 {
		f.denied = toSet(cfg.DeniedEvents)
	}
	return f
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// ShouldSendEvent reports whether an event of the given name is eligible for
// delivery: denied list wins over allowed list; an empty allowed list admits
// everything not denied.
func (f *Filter) ShouldSendEvent(name string) bool {
	if f.denied != nil {
		if _, denied := f.denied[name]; denied {
			return false
		}
	}
	if f.allowed != nil {
		_, ok := f.allowed[name]
		return ok
	}
	return true
}

// Message is the minimal shape the filter needs from a chat message.
type Message struct {
	RemoteJID string
}

// ShouldSendMessage reports whether a single message is eligible, based on its
// remote address's suffix.
func (f *Filter) ShouldSendMessage(msg Message) bool {
	if msg.RemoteJID == "" {
		return false
	}
	jid := msg.RemoteJID

	if f.cfg.SkipStatus && (strings.HasSuffix(jid, "@broadcast") || strings.Contains(jid, "status@broadcast")) {
		return false
	}
	if f.cfg.SkipGroups && strings.HasSuffix(jid, "@g.us") {
		return false
	}
	if f.cfg.SkipChannels && strings.HasSuffix(jid, "@newsletter") {
		return false
	}
	return true
}

// FilterMessages returns the subset of msgs that pass ShouldSendMessage. A
// batch that fully empties out (all messages filtered) returns an empty,
// non-nil slice — callers must treat that as "do not deliver at all".
func (f *Filter) FilterMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if f.ShouldSendMessage(m) {
			out = append(out, m)
		}
	}
	return out
}
