// Package identity resolves the anonymous user and session identifiers and
// the session's page journey.
package identity

import (
	"sync"

	"github.com/google/uuid"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
)

// Storage slots.
const (
	KeyUserID    = "pulse_uid"
	KeySessionID = "pulse_sid"
	KeyJourney   = "pulse_journey"
)

// Store lazily creates and caches the user and session identifiers.
// Storage failures never surface: a durable failure falls back to the
// session slot and a session failure to an in-memory identifier.
type Store struct {
	durable storage.Store
	session storage.Store
	logger  *logging.Logger
	newID   func() string

	mu        sync.Mutex
	userID    string
	sessionID string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the UUIDv4 generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger used for storage degradation warnings.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over the durable and session slots.
func New(durable, session storage.Store, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		session: session,
		logger:  logging.Discard(),
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.durable == nil {
		s.durable = storage.Unavailable{}
	}
	if s.session == nil {
		s.session = storage.Unavailable{}
	}
	return s
}

// UserID returns the persistent anonymous user identifier.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID != "" {
		return s.userID
	}

	id, err := s.getOrCreate(s.durable, KeyUserID)
	if err == nil {
		s.userID = id
		return id
	}
	s.logger.Warn("durable storage unavailable, using session storage for user id", logging.Error(err))

	id, err = s.getOrCreate(s.session, KeyUserID)
	if err == nil {
		s.userID = id
		return id
	}
	s.logger.Warn("session storage unavailable, user id kept in memory", logging.Error(err))

	s.userID = s.newID()
	return s.userID
}

// SessionID returns the identifier of the current browsing session.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID != "" {
		return s.sessionID
	}

	id, err := s.getOrCreate(s.session, KeySessionID)
	if err != nil {
		s.logger.Warn("session storage unavailable, session id kept in memory", logging.Error(err))
		id = s.newID()
	}
	s.sessionID = id
	return id
}

func (s *Store) getOrCreate(st storage.Store, key string) (string, error) {
	v, ok, err := st.Get(key)
	if err != nil {
		return "", err
	}
	if ok && v != "" {
		return v, nil
	}
	id := s.newID()
	if err := st.Set(key, id); err != nil {
		return "", err
	}
	return id, nil
}
