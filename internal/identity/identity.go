// Package identity owns the visitor and session identifiers of the analytics
// client. The visitor id lives in durable storage, the session id in session
// storage; both fall back to in-memory values when storage is unusable.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Arsene94/dacarsfe-sub002/internal/environment"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

const (
	VisitorKey = "dacars:analytics:visitor_uuid"
	SessionKey = "dacars:analytics:session_uuid"
)

// Store caches identifiers for the lifetime of the page.
type Store struct {
	env environment.Environment

	mu      sync.Mutex
	visitor string
	session string

	newID func() string
}

// NewStore returns a Store reading storages from env.
func NewStore(env environment.Environment) *Store {
	if env == nil {
		env = environment.Headless{}
	}
	return &Store{env: env, newID: NewUUID}
}

// VisitorID returns the durable visitor id, creating and persisting it on
// first use.
func (s *Store) VisitorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visitor == "" {
		s.visitor = s.readOrCreate(s.durable(), VisitorKey)
	}
	return s.visitor
}

// SessionID returns the session id, creating and persisting it on first use.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == "" {
		s.session = s.readOrCreate(s.ephemeral(), SessionKey)
	}
	return s.session
}

// SetSessionID adopts a session id issued by the collector.
func (s *Store) SetSessionID(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = value
	if st := s.ephemeral(); st != nil {
		if err := st.SetItem(SessionKey, value); err != nil {
			logging.Warn().Err(err).Str("key", SessionKey).Msg("identity: could not persist session id")
		}
	}
}

// Reset forgets cached ids so the next call re-reads storage, as a new page
// load would.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitor = ""
	s.session = ""
}

func (s *Store) durable() environment.Storage {
	if !s.env.HasDOM() {
		return nil
	}
	return s.env.DurableStorage()
}

func (s *Store) ephemeral() environment.Storage {
	if !s.env.HasDOM() {
		return nil
	}
	return s.env.SessionStorage()
}

func (s *Store) readOrCreate(st environment.Storage, key string) string {
	if st == nil {
		return s.newID()
	}
	stored, err := st.GetItem(key)
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("identity: storage read failed, using in-memory id")
		return s.newID()
	}
	if strings.TrimSpace(stored) != "" {
		return stored
	}
	generated := s.newID()
	if err := st.SetItem(key, generated); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("identity: storage write failed, using in-memory id")
	}
	return generated
}

// NewUUID returns a random version 4 UUID. It never fails: when the secure
// random source errors it assembles one from math/rand.
func NewUUID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	logging.Warn().Err(err).Msg("identity: secure random unavailable, using fallback uuid")
	return fallbackUUID(nil)
}

// fallbackUUID formats a version 4, variant 10 UUID from b, or from
// crypto/rand then math/rand when b is nil.
func fallbackUUID(b []byte) string {
	var raw [16]byte
	switch {
	case len(b) >= 16:
		copy(raw[:], b)
	default:
		if _, err := rand.Read(raw[:]); err != nil {
			for i := range raw {
				raw[i] = byte(mrand.IntN(256))
			}
		}
	}
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80

	h := hex.EncodeToString(raw[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
