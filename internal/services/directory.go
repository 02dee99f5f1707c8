package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dmd/devicetracker/types"
)

const (
	// RootAdminID is the account that is always present and cannot be removed.
	RootAdminID = "000001"

	rootAdminPassword  = "222222222"
	rootAdminFirstName = "Jelisha"
	rootAdminLastName  = "Joseph"
)

var userIDPattern = regexp.MustCompile(`^[0-9]{1,6}$`)

// UserStore defines persistence operations for the user roster.
type UserStore interface {
	LoadUsers(ctx context.Context) ([]types.User, error)
	SaveUsers(ctx context.Context, users []types.User) error
}

// UserDirectory holds the authoritative in-memory roster and writes every
// change through to its store.
type UserDirectory struct {
	mu     sync.RWMutex
	store  UserStore
	logger *slog.Logger
	users  map[string]types.User
	// loadErr is set when the stored roster could not be read. Writes are
	// then refused so the partial in-memory roster never replaces it.
	loadErr error
}

// NewUserDirectory loads the roster from store. A failed or empty load never
// blocks startup: the directory falls back to a roster holding only the root
// admin. After a failed load that fallback lives in memory only.
func NewUserDirectory(ctx context.Context, store UserStore, logger *slog.Logger) *UserDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &UserDirectory{
		store:  store,
		logger: logger.With("component", "user_directory"),
		users:  make(map[string]types.User),
	}

	loaded, err := store.LoadUsers(ctx)
	if err != nil {
		d.logger.Error("load users failed, roster is read-only until restart", "error", err)
		d.loadErr = err
		loaded = nil
	}
	for _, user := range loaded {
		if _, dup := d.users[user.ID]; dup {
			d.logger.Warn("duplicate user id in store, keeping first", "user_id", user.ID)
			continue
		}
		d.users[user.ID] = user
	}

	if _, ok := d.users[RootAdminID]; !ok {
		d.users[RootAdminID] = RootAdmin()
		d.logger.Info("seeded root admin", "user_id", RootAdminID)
		if d.loadErr == nil {
			if err := d.persistLocked(ctx); err != nil {
				d.logger.Warn("root admin seed not persisted", "error", err)
			}
		}
	}

	d.logger.Info("user directory ready", "users", len(d.users))
	return d
}

// RootAdmin returns the seed account with its default password.
func RootAdmin() types.User {
	return types.User{
		ID:           RootAdminID,
		PasswordHash: LegacyHash(rootAdminPassword),
		Role:         types.RoleCoach,
		FirstName:    rootAdminFirstName,
		LastName:     rootAdminLastName,
	}
}

// ValidateUserID reports whether id is 1 to 6 ASCII digits.
func ValidateUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return ErrInvalidUserID
	}
	return nil
}

// Create adds a new user.
func (d *UserDirectory) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = strings.TrimSpace(user.ID)
	user.FirstName = strings.TrimSpace(user.FirstName)
	user.LastName = strings.TrimSpace(user.LastName)
	if err := ValidateUserID(user.ID); err != nil {
		return types.User{}, err
	}
	if !user.Role.Valid() {
		return types.User{}, ErrInvalidRole
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[user.ID]; exists {
		return types.User{}, fmt.Errorf("create user %s: %w", user.ID, ErrDuplicateID)
	}
	d.users[user.ID] = user
	d.logger.Info("user created", "user_id", user.ID, "role", user.Role)

	return user, d.persistLocked(ctx)
}

// FindByID looks a user up by id.
func (d *UserDirectory) FindByID(id string) (types.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	return user, ok
}

// FindByCredentials returns the user only when both id and stored password
// hash match. The hash comparison runs in constant time.
func (d *UserDirectory) FindByCredentials(id, passwordHash string) (types.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok {
		return types.User{}, false
	}
	if subtle.ConstantTimeCompare([]byte(user.PasswordHash), []byte(passwordHash)) != 1 {
		return types.User{}, false
	}
	return user, true
}

// List returns every user ordered by id.
func (d *UserDirectory) List() []types.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Update applies a profile edit. The password hash is never touched here.
func (d *UserDirectory) Update(ctx context.Context, id string, patch types.UserPatch) (types.User, error) {
	if patch.Role != nil && !patch.Role.Valid() {
		return types.User{}, ErrInvalidRole
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return types.User{}, fmt.Errorf("update user %s: %w", id, ErrNotFound)
	}
	if patch.FirstName != nil {
		user.FirstName = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		user.LastName = strings.TrimSpace(*patch.LastName)
	}
	if patch.Role != nil {
		user.Role = *patch.Role
	}
	d.users[id] = user
	d.logger.Info("user updated", "user_id", id, "role", user.Role)

	return user, d.persistLocked(ctx)
}

// ResetPassword replaces the stored hash of an existing user.
func (d *UserDirectory) ResetPassword(ctx context.Context, id, newHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return fmt.Errorf("reset password %s: %w", id, ErrNotFound)
	}
	user.PasswordHash = newHash
	d.users[id] = user
	d.logger.Info("password reset", "user_id", id)

	return d.persistLocked(ctx)
}

// Remove deletes a user. The root admin is protected.
func (d *UserDirectory) Remove(ctx context.Context, id string) error {
	if id == RootAdminID {
		return ErrProtectedAccount
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[id]; !ok {
		return fmt.Errorf("remove user %s: %w", id, ErrNotFound)
	}
	delete(d.users, id)
	d.logger.Info("user removed", "user_id", id)

	return d.persistLocked(ctx)
}

func (d *UserDirectory) snapshotLocked() []types.User {
	users := make([]types.User, 0, len(d.users))
	for _, user := range d.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// Degraded reports whether the stored roster failed to load.
func (d *UserDirectory) Degraded() bool {
	return d.loadErr != nil
}

func (d *UserDirectory) persistLocked(ctx context.Context) error {
	if d.loadErr != nil {
		return fmt.Errorf("%w: users not loaded: %w", ErrPersistence, d.loadErr)
	}
	if err := d.store.SaveUsers(ctx, d.snapshotLocked()); err != nil {
		d.logger.Error("save users failed", "error", err)
		return fmt.Errorf("%w: save users: %w", ErrPersistence, err)
	}
	return nil
}
