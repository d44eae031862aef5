package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is a device's durable identity. The token is handed to the client
// once and must come back verbatim on every connection.
type Session struct {
	Token       string
	PlayerID    string
	DisplayName string
	RoomCode    string

	lastSeen time.Time
}

// SessionStore maps tokens to sessions. It is the only structure shared by
// every connection without per-room serialization.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Resolve looks a token up without touching it.
func (s *SessionStore) Resolve(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Create mints a fresh token and player identity.
func (s *SessionStore) Create(displayName string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var token string
	for {
		t, err := newToken()
		if err != nil {
			return Session{}, err
		}
		if _, taken := s.sessions[t]; !taken {
			token = t
			break
		}
	}

	sess := &Session{
		Token:       token,
		PlayerID:    uuid.NewString(),
		DisplayName: displayName,
		lastSeen:    time.Now(),
	}
	s.sessions[token] = sess

	log.Debug().Str("module", "session").Str("player", sess.PlayerID).Msg("created session")

	return *sess, nil
}

func (s *SessionStore) update(token string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

func (s *SessionStore) AttachToRoom(token, code string) bool {
	return s.update(token, func(sess *Session) { sess.RoomCode = code })
}

func (s *SessionStore) DetachFromRoom(token string) bool {
	return s.update(token, func(sess *Session) { sess.RoomCode = "" })
}

func (s *SessionStore) Rename(token, name string) bool {
	return s.update(token, func(sess *Session) { sess.DisplayName = name })
}

// Touch marks the session as in use so Prune keeps it.
func (s *SessionStore) Touch(token string) bool {
	return s.update(token, func(sess *Session) { sess.lastSeen = time.Now() })
}

// Prune forgets sessions unused since before cutoff. A client presenting a
// pruned token simply starts over as a new player.
func (s *SessionStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) reaperLoop(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Prune(now.Add(-idle)); n > 0 {
				log.Debug().Str("module", "session").Int("pruned", n).Msg("pruned idle sessions")
			}
		}
	}
}
