package connmgr

import (
	"fmt"
	"sync"
)

// Session is a live connection to one satellite (§3 Session). Identity
// fields start as "unknown" and are updated by a hello frame; NotifyActive
// is mutated only by the Notify Queue. Manager.All()/ByHostname()/ByMAC()
// hand out the same *Session pointer to every caller, so the mutable
// identity fields are guarded by their own lock rather than Manager.mu —
// readers and the one writer (Manager.Update) can run concurrently without
// racing on the struct fields directly.
type Session struct {
	handle     string
	UserAgent  string
	RemoteAddr string

	mu           sync.RWMutex
	hostname     string
	platform     string
	macAddr      string
	notifyActive int64 // 0 ⇒ idle

	send func(text string) error
}

const unknown = "unknown"

func newSession(handle, userAgent, remoteAddr string, send func(string) error) *Session {
	return &Session{
		handle:     handle,
		UserAgent:  userAgent,
		RemoteAddr: remoteAddr,
		hostname:   unknown,
		platform:   unknown,
		macAddr:    unknown,
		send:       send,
	}
}

// Handle returns the session's opaque socket handle.
func (s *Session) Handle() string { return s.handle }

// Hostname returns the session's last-reported hostname, or "unknown".
func (s *Session) Hostname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostname
}

// Platform returns the session's last-reported hardware platform, or
// "unknown".
func (s *Session) Platform() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platform
}

// MAC returns the session's normalized MAC address, satisfying
// internal/endpoint's Session interface.
func (s *Session) MAC() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.macAddr
}

// NotifyActive returns the id of the notification currently in flight on
// this session, or 0 if none.
func (s *Session) NotifyActive() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifyActive
}

// setIdentity applies one identity field update; called only by
// Manager.Update/UpdateMACBytes.
func (s *Session) setIdentity(field Field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch field {
	case FieldHostname:
		s.hostname = value
	case FieldPlatform:
		s.platform = value
	case FieldMAC:
		s.macAddr = value
	}
}

// setNotifyActive records the id of the notification in flight on this
// session (0 clears it); called only by Manager.SetNotificationActive.
func (s *Session) setNotifyActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyActive = id
}

// SendText delivers text on this session's transport, in the order this
// method is called (§5 per-session ordering guarantee).
func (s *Session) SendText(text string) error {
	return s.send(text)
}

func normalizeMAC(raw []byte) string {
	if len(raw) != 6 {
		return ""
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", raw[0], raw[1], raw[2], raw[3], raw[4], raw[5])
}
