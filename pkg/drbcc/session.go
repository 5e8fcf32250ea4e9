package drbcc

import (
	"sync"

	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
)

// SessionID is a monotonically increasing, non-zero identifier binding a
// submitted request to a later session callback.
type SessionID uint64

// session is the single outstanding-request slot. At most one session is
// active at a time; a second submission while one is active fails
// with SessionActive.
type session struct {
	mu sync.Mutex

	nextID SessionID
	id     SessionID

	// indClosesSession arms the "bind the next indication to this
	// session" rule for requests (REQ_STATUS, REQ_SET_GPO, REQ_HD_ONOFF,
	// REQ_GPI_POWER) whose ack alone does not close the session but whose
	// first subsequent status indication should.
	indClosesSession bool

	onClose func(id SessionID, success bool)
}

func newSession() *session {
	return &session{nextID: 1}
}

// active reports whether a session is currently open.
func (s *session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != 0
}

// submit allocates a new session id, or returns proto.SessionActive if one
// is already outstanding.
func (s *session) submit(indClosesSession bool) (SessionID, proto.RC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != 0 {
		return 0, proto.SessionActive
	}
	s.id = s.nextID
	s.nextID++
	s.indClosesSession = indClosesSession
	return s.id, proto.NoError
}

// close invokes the session callback once (if one is registered and a
// session is actually open) and clears the slot.
func (s *session) close(success bool) {
	s.mu.Lock()
	id := s.id
	cb := s.onClose
	s.id = 0
	s.indClosesSession = false
	s.mu.Unlock()

	if id != 0 && cb != nil {
		cb(id, success)
	}
}

// wantsIndicationClose reports whether the active session is armed to close
// on its next indication (REQ_STATUS-style binding), independent of cmd.
func (s *session) wantsIndicationClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != 0 && s.indClosesSession
}
