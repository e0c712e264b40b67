// Package connmgr implements the Connection Manager (§4.D): the live
// session table keyed by socket handle, with reverse lookup by hostname
// and MAC: a mutex-guarded map with one writer and many best-effort
// readers, plus fan-out to every session.
package connmgr

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/metrics"
)

// Manager owns the live session table. One writer at a time for
// accept/disconnect/identity updates (§5); readers may observe mid-update
// identity fields.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      zerolog.Logger
}

// New constructs an empty Connection Manager.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		log:      log.With().Str("component", "connmgr").Logger(),
	}
}

// Accept completes the handshake for a new socket and inserts its Session.
// send delivers one text frame on this socket; the manager calls it
// strictly in the order SendText is invoked.
func (m *Manager) Accept(handle, userAgent, remoteAddr string, send func(string) error) *Session {
	sess := newSession(handle, userAgent, remoteAddr, send)

	m.mu.Lock()
	m.sessions[handle] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsConnected.Set(float64(count))
	m.log.Info().Str("handle", handle).Str("user_agent", userAgent).Msg("session accepted")
	return sess
}

// Disconnect removes handle's session if present. Idempotent.
func (m *Manager) Disconnect(handle string) {
	m.mu.Lock()
	_, ok := m.sessions[handle]
	delete(m.sessions, handle)
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		metrics.SessionsConnected.Set(float64(count))
		m.log.Info().Str("handle", handle).Msg("session disconnected")
	}
}

// Field identifies one of a Session's mutable identity attributes.
type Field int

const (
	FieldHostname Field = iota
	FieldPlatform
	FieldMAC
)

// Update sets one identity field on handle's session, a no-op if the
// session is gone. The session's own lock guards the field, not m.mu —
// m.mu here only needs to protect the map lookup.
func (m *Manager) Update(handle string, field Field, value string) {
	m.mu.RLock()
	sess, ok := m.sessions[handle]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sess.setIdentity(field, value)
}

// UpdateMACBytes normalizes a 6-byte MAC and applies it, matching §4.D's
// MAC normalization rule. A malformed sequence is ignored.
func (m *Manager) UpdateMACBytes(handle string, raw []byte) {
	mac := normalizeMAC(raw)
	if mac == "" {
		return
	}
	m.Update(handle, FieldMAC, mac)
}

// ByHostname returns any one session reporting hostname, or nil.
// Uniqueness is not guaranteed (§3); which match is returned when more
// than one exists is deterministic for a given table state: the match
// with the lowest handle (string order), per spec.md §9 open question (a).
func (m *Manager) ByHostname(hostname string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Session
	for _, s := range m.sessions {
		if s.Hostname() == hostname && (found == nil || s.handle < found.handle) {
			found = s
		}
	}
	return found
}

// ByMAC returns any one session reporting mac, or nil; among duplicates,
// the one with the lowest handle (string order), as for ByHostname.
func (m *Manager) ByMAC(mac string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Session
	for _, s := range m.sessions {
		if s.MAC() == mac && (found == nil || s.handle < found.handle) {
			found = s
		}
	}
	return found
}

// ByHandle returns the session for handle, or nil.
func (m *Manager) ByHandle(handle string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[handle]
}

// All returns a snapshot slice of every live session, for broadcast and
// status-surface callers.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast best-effort fans text out to every live session; a
// per-recipient send error is logged and does not abort the loop.
func (m *Manager) Broadcast(text string) {
	for _, s := range m.All() {
		if err := s.SendText(text); err != nil {
			m.log.Warn().Err(err).Str("handle", s.Handle()).Msg("broadcast send failed")
		}
	}
}

// SetNotificationActive marks handle's session as carrying notification id
// in flight (0 clears it).
func (m *Manager) SetNotificationActive(handle string, id int64) {
	m.mu.RLock()
	sess, ok := m.sessions[handle]
	m.mu.RUnlock()
	if ok {
		sess.setNotifyActive(id)
	}
}

// IsNotificationActive reports whether handle's session has a notification
// in flight.
func (m *Manager) IsNotificationActive(handle string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[handle]
	m.mu.RUnlock()
	return ok && sess.NotifyActive() != 0
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
