package drbcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

func TestSessionSingleSlot(t *testing.T) {
	s := newSession()

	id, rc := s.submit(true)
	require.Equal(t, proto.NoError, rc)
	assert.NotZero(t, id)
	assert.True(t, s.active())

	_, rc = s.submit(false)
	assert.Equal(t, proto.SessionActive, rc)
}

func TestSessionIDsNeverReused(t *testing.T) {
	s := newSession()
	seen := map[SessionID]bool{}

	for i := 0; i < 100; i++ {
		id, rc := s.submit(false)
		require.Equal(t, proto.NoError, rc)
		require.False(t, seen[id], "session id %d reused", id)
		seen[id] = true
		s.close(true)
	}
}

func TestSessionCloseInvokesCallbackOnce(t *testing.T) {
	s := newSession()
	var calls []bool
	s.onClose = func(id SessionID, success bool) { calls = append(calls, success) }

	id, _ := s.submit(false)
	s.close(false)
	s.close(true) // second close is a no-op, no session open

	require.Len(t, calls, 1)
	assert.False(t, calls[0])
	assert.False(t, s.active())
	_ = id
}

func TestSessionIndicationCloseArming(t *testing.T) {
	s := newSession()

	s.submit(true)
	assert.True(t, s.wantsIndicationClose())
	s.close(true)
	assert.False(t, s.wantsIndicationClose())

	s.submit(false)
	assert.False(t, s.wantsIndicationClose())
}
