package identity

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
)

func sequence() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestStore_CreatesAndPersists(t *testing.T) {
	durable := storage.NewMemory()
	session := storage.NewMemory()

	s := New(durable, session)
	uid := s.UserID()
	sid := s.SessionID()

	_, err := uuid.Parse(uid)
	require.NoError(t, err)
	_, err = uuid.Parse(sid)
	require.NoError(t, err)
	assert.NotEqual(t, uid, sid)

	assert.Equal(t, uid, s.UserID())
	assert.Equal(t, sid, s.SessionID())

	stored, ok, _ := durable.Get(KeyUserID)
	assert.True(t, ok)
	assert.Equal(t, uid, stored)
	stored, ok, _ = session.Get(KeySessionID)
	assert.True(t, ok)
	assert.Equal(t, sid, stored)
}

func TestStore_ReusesExisting(t *testing.T) {
	durable := storage.NewMemory()
	session := storage.NewMemory()
	require.NoError(t, durable.Set(KeyUserID, "existing-user"))
	require.NoError(t, session.Set(KeySessionID, "existing-session"))

	s := New(durable, session, WithIDGenerator(sequence()))
	assert.Equal(t, "existing-user", s.UserID())
	assert.Equal(t, "existing-session", s.SessionID())
}

func TestStore_NewSessionKeepsUser(t *testing.T) {
	durable := storage.NewMemory()

	first := New(durable, storage.NewMemory(), WithIDGenerator(sequence()))
	uid := first.UserID()
	sid := first.SessionID()

	// A new tab: same durable storage, fresh session storage.
	second := New(durable, storage.NewMemory(), WithIDGenerator(func() string { return "fresh" }))
	assert.Equal(t, uid, second.UserID())
	assert.Equal(t, "fresh", second.SessionID())
	assert.NotEqual(t, sid, second.SessionID())
}

func TestStore_Degradation(t *testing.T) {
	tests := []struct {
		name         string
		durable      storage.Store
		session      storage.Store
		uidInDurable bool
		uidInSession bool
	}{
		{"all available", storage.NewMemory(), storage.NewMemory(), true, false},
		{"durable unavailable", storage.Unavailable{}, storage.NewMemory(), false, true},
		{"nothing available", storage.Unavailable{}, storage.Unavailable{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.durable, tt.session, WithIDGenerator(sequence()))

			uid := s.UserID()
			sid := s.SessionID()
			assert.NotEmpty(t, uid)
			assert.NotEmpty(t, sid)
			assert.Equal(t, uid, s.UserID(), "user id must be stable")
			assert.Equal(t, sid, s.SessionID(), "session id must be stable")

			v, ok, _ := tt.durable.Get(KeyUserID)
			assert.Equal(t, tt.uidInDurable, ok && v == uid)
			v, ok, _ = tt.session.Get(KeyUserID)
			assert.Equal(t, tt.uidInSession, ok && v == uid)
		})
	}
}

func TestStore_NilStores(t *testing.T) {
	s := New(nil, nil)
	assert.NotEmpty(t, s.UserID())
	assert.NotEmpty(t, s.SessionID())
}
