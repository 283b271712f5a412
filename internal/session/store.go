// SPDX-License-Identifier: MPL-2.0

package session

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/core/keyed"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

// DefaultHistoryLimit is the number of commands kept per session.
const DefaultHistoryLimit = 50

type (
	// Session is a snapshot of one learner's challenge. Values returned by
	// the Store are copies; mutating them does not affect the Store.
	Session struct {
		ID            string
		Issue         *scenario.Issue
		EnvironmentID container.ContainerID
		CreatedAt     time.Time
		History       []CommandEntry
	}

	// CommandEntry is one executed command and its output.
	CommandEntry struct {
		Command string    `json:"command"`
		Output  string    `json:"output"`
		At      time.Time `json:"at"`
	}

	// Store holds sessions by id.
	Store struct {
		sessions     *keyed.Map[string, Session]
		historyLimit int
		now          func() time.Time
		newID        func() string
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithHistoryLimit bounds the per-session command history. Zero disables
// history.
func WithHistoryLimit(n int) Option {
	return func(s *Store) { s.historyLimit = max(n, 0) }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDFunc sets the session id generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:     keyed.NewMap[string, Session](32),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending reports whether no environment has been attached yet.
func (s Session) Pending() bool { return s.EnvironmentID == "" }

// Create stores a new session for issue with a pending environment and
// returns it. The issue is copied.
func (s *Store) Create(issue *scenario.Issue) (Session, error) {
	if issue == nil {
		return Session{}, failure.InvalidInput("create session", "issue is required")
	}

	sess := Session{Issue: issue.Clone(), CreatedAt: s.now()}
	for {
		sess.ID = s.newID()
		if sess.ID == "" {
			return Session{}, failure.New(failure.KindInternal, "create session", "empty session id")
		}
		if _, loaded := s.sessions.LoadOrStore(sess.ID, sess); !loaded {
			return sess.clone(), nil
		}
	}
}

// Get returns the session with id.
func (s *Store) Get(id string) (Session, error) {
	sess, ok := s.sessions.Load(id)
	if !ok {
		return Session{}, failure.NotFound("session", id)
	}
	return sess.clone(), nil
}

// Delete removes the session and returns its final state. The environment
// is left alone.
func (s *Store) Delete(id string) (Session, error) {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return Session{}, failure.NotFound("session", id)
	}
	return sess, nil
}

// SetEnvironment attaches a provisioned environment to the session.
func (s *Store) SetEnvironment(id string, envID container.ContainerID) error {
	if err := envID.Validate(); err != nil {
		return failure.InvalidInput("attach environment", err.Error())
	}
	return s.update(id, func(sess *Session) { sess.EnvironmentID = envID })
}

// RecordCommand appends to the session's command history, dropping the
// oldest entries beyond the history limit.
func (s *Store) RecordCommand(id string, entry CommandEntry) error {
	if entry.At.IsZero() {
		entry.At = s.now()
	}
	return s.update(id, func(sess *Session) {
		if s.historyLimit == 0 {
			return
		}
		history := append(slices.Clone(sess.History), entry)
		if over := len(history) - s.historyLimit; over > 0 {
			history = history[over:]
		}
		sess.History = history
	})
}

// List returns all sessions, oldest first.
func (s *Store) List() []Session {
	var out []Session
	s.sessions.Range(func(_ string, sess Session) bool {
		out = append(out, sess.clone())
		return true
	})
	slices.SortFunc(out, func(a, b Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

func (s *Store) update(id string, fn func(*Session)) error {
	found := false
	s.sessions.Update(id, func(cur Session, exists bool) (Session, bool) {
		if !exists {
			return cur, false
		}
		found = true
		fn(&cur)
		return cur, true
	})
	if !found {
		return failure.NotFound("session", id)
	}
	return nil
}

func (s Session) clone() Session {
	s.Issue = s.Issue.Clone()
	s.History = slices.Clone(s.History)
	return s
}
