package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dmd/devicetracker/types"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SessionState is the authentication state of a Session.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateAuthenticated
)

func (s SessionState) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Identity is the user bound to an authenticated session.
type Identity struct {
	UserID string     `json:"user_id"`
	Role   types.Role `json:"role"`
}

// CredentialChecker is the part of the user directory a session needs.
type CredentialChecker interface {
	FindByID(id string) (types.User, bool)
	FindByCredentials(id, passwordHash string) (types.User, bool)
}

// Session is a two-state machine: Anonymous until a successful Login,
// Authenticated until Logout.
type Session struct {
	mu       sync.Mutex
	users    CredentialChecker
	logger   *slog.Logger
	state    SessionState
	identity Identity
}

// NewSession returns an anonymous session.
func NewSession(users CredentialChecker, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{users: users, logger: logger}
}

// Login authenticates the session. On failure the session is left anonymous
// and ErrInvalidCredentials is returned whatever the cause.
func (s *Session) Login(ctx context.Context, id, password string) (types.Role, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAnonymous
	s.identity = Identity{}

	user, ok := s.verify(id, password)
	if !ok {
		return "", ErrInvalidCredentials
	}

	s.state = StateAuthenticated
	s.identity = Identity{UserID: user.ID, Role: user.Role}
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID, "role", user.Role)
	return user.Role, nil
}

// dummyHash stands in for a missing or legacy stored hash so every login
// attempt costs one bcrypt comparison whether or not the id exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("devicetracker-absent-user"), bcrypt.DefaultCost)

var compareHash = bcrypt.CompareHashAndPassword

func (s *Session) verify(id, password string) (types.User, bool) {
	stored, ok := s.users.FindByID(id)
	if !ok {
		_ = compareHash(dummyHash, []byte(password))
		s.logger.Debug("login rejected", "user_id", id, "reason", "unknown id")
		return types.User{}, false
	}
	if isBcryptHash(stored.PasswordHash) {
		if err := compareHash([]byte(stored.PasswordHash), []byte(password)); err != nil {
			s.logger.Debug("login rejected", "user_id", id, "reason", "password mismatch")
			return types.User{}, false
		}
		return stored, true
	}
	_ = compareHash(dummyHash, []byte(password))
	user, ok := s.users.FindByCredentials(id, LegacyHash(password))
	if !ok {
		s.logger.Debug("login rejected", "user_id", id, "reason", "password mismatch")
		return types.User{}, false
	}
	return user, true
}

// Logout returns the session to the anonymous state.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated {
		s.logger.Info("logout", "user_id", s.identity.UserID)
	}
	s.state = StateAnonymous
	s.identity = Identity{}
}

// Current returns the identity of an authenticated session.
func (s *Session) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return Identity{}, false
	}
	return s.identity, true
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type sessionEntry struct {
	session *Session
	expires time.Time
}

// Sessions maps opaque session ids to sessions. Expired entries are pruned
// lazily on Create.
type Sessions struct {
	mu      sync.Mutex
	users   CredentialChecker
	logger  *slog.Logger
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]sessionEntry
}

// NewSessions builds an empty registry. A non-positive ttl keeps sessions
// until they are deleted.
func NewSessions(users CredentialChecker, ttl time.Duration, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		users:   users,
		logger:  logger.With("component", "sessions"),
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]sessionEntry),
	}
}

// Create registers a new anonymous session and returns its id.
func (r *Sessions) Create() (string, *Session) {
	id := uuid.NewString()
	session := NewSession(r.users, r.logger.With("session_id", id))

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	for key, entry := range r.entries {
		if r.expired(entry, now) {
			delete(r.entries, key)
		}
	}
	entry := sessionEntry{session: session}
	if r.ttl > 0 {
		entry.expires = now.Add(r.ttl)
	}
	r.entries[id] = entry
	return id, session
}

// Get returns a live session.
func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	if r.expired(entry, r.clock()) {
		delete(r.entries, id)
		return nil, false
	}
	return entry.session, true
}

// Delete logs the session out and forgets it.
func (r *Sessions) Delete(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		entry.session.Logout()
	}
}

// Len returns the number of registered sessions, expired ones included.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Sessions) expired(entry sessionEntry, now time.Time) bool {
	return !entry.expires.IsZero() && now.After(entry.expires)
}
