package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krau/agridoctor/diagnosis"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Outcome is what the page shows about the latest analysis.
type Outcome struct {
	Crop       string  `json:"crop"`
	Label      string  `json:"label,omitempty"`
	Confidence float32 `json:"confidence"`
	Accepted   bool    `json:"accepted"`
	Rejected   bool    `json:"rejected"`
	Advice     string  `json:"advice,omitempty"`
	Error      string  `json:"error,omitempty"`

	Candidates []diagnosis.Candidate `json:"candidates,omitempty"`

	// Preview is a data URI of the uploaded leaf.
	Preview string `json:"-"`
}

// Session holds one browser's state. Callers hold Lock while mutating it.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
	Diagnosis string    `json:"diagnosis,omitempty"`
	Crop      string    `json:"crop,omitempty"`
	Last      *Outcome  `json:"last,omitempty"`

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Append adds a message to the end of the history.
func (s *Session) Append(role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at})
}

func (s *Session) HasDiagnosis() bool {
	return s.Diagnosis != ""
}

// SetDiagnosis records the latest accepted diagnosis.
func (s *Session) SetDiagnosis(label, crop string) {
	s.Diagnosis = label
	s.Crop = crop
}

// History returns a copy of the messages.
func (s *Session) History() []Message {
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Store keeps sessions in memory and forgets them after ttl of inactivity.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the live session for id, creating a new one when id is unknown
// or expired. The bool reports whether a session was created.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.sweep(now)

	if s, ok := st.sessions[id]; ok {
		s.lastSeen = now
		return s, false
	}
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Messages:  []Message{},
		lastSeen:  now,
	}
	st.sessions[s.ID] = s
	return s, true
}

// Delete ends a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) sweep(now time.Time) {
	if st.ttl <= 0 {
		return
	}
	for id, s := range st.sessions {
		if now.Sub(s.lastSeen) > st.ttl {
			delete(st.sessions, id)
		}
	}
}
