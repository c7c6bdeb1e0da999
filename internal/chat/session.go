package chat

import (
	"sync"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
)

// Session is the state of one conversation front end: its transcript and the transient flags the
// UI reads. Sessions are independent of each other.
type Session struct {
	ID         string
	Transcript *Transcript

	mu          sync.Mutex
	loading     bool
	token       uint64
	sidebarOpen bool
}

// NewSession creates a session with an empty transcript. See NewTranscript for the observer.
func NewSession(id string, observer func(models.Message)) *Session {
	return &Session{
		ID:         id,
		Transcript: NewTranscript(observer),
	}
}

// IsLoading reports whether a request is being answered.
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SidebarOpen reports whether the sidebar is shown.
func (s *Session) SidebarOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sidebarOpen
}

// SetSidebarOpen shows or hides the sidebar.
func (s *Session) SetSidebarOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = open
}

// acquire marks the session as loading and returns the token that releases it.
func (s *Session) acquire() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return 0, ErrRequestInFlight
	}
	s.token++
	s.loading = true
	return s.token, nil
}

// release clears the loading flag unless a newer request took the session over.
func (s *Session) release(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == token {
		s.loading = false
	}
}

func (s *Session) reset() {
	s.mu.Lock()
	s.token++
	s.loading = false
	s.sidebarOpen = false
	s.mu.Unlock()

	s.Transcript.Reset()
}
