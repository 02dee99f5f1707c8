package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dmd/devicetracker/internal/services"
	"github.com/dmd/devicetracker/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const testSecret = "test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore keeps saved snapshots in memory. saveAssignmentsFn overrides
// ledger saves when set.
type memoryStore struct {
	mu          sync.Mutex
	users       []types.User
	assignments []types.Assignment

	saveAssignmentsFn func(ctx context.Context, assignments []types.Assignment) error
}

func (m *memoryStore) LoadUsers(ctx context.Context) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.User(nil), m.users...), nil
}

func (m *memoryStore) SaveUsers(ctx context.Context, users []types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append([]types.User(nil), users...)
	return nil
}

func (m *memoryStore) LoadAssignments(ctx context.Context) ([]types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Assignment(nil), m.assignments...), nil
}

func (m *memoryStore) SaveAssignments(ctx context.Context, assignments []types.Assignment) error {
	if m.saveAssignmentsFn != nil {
		return m.saveAssignmentsFn(ctx, assignments)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append([]types.Assignment(nil), assignments...)
	return nil
}

type testEnv struct {
	router   http.Handler
	store    *memoryStore
	users    *services.UserDirectory
	ledger   *services.AssignmentLedger
	sessions *services.Sessions
}

func newTestEnv(t *testing.T, limiter *LoginLimiter, logger *slog.Logger) *testEnv {
	t.Helper()
	if logger == nil {
		logger = discardLogger()
	}

	store := &memoryStore{}
	ctx := context.Background()
	users := services.NewUserDirectory(ctx, store, discardLogger())
	ledger := services.NewAssignmentLedger(ctx, store, services.LedgerOptions{Users: users, Logger: discardLogger()})
	sessions := services.NewSessions(users, 0, discardLogger())

	hasher, err := services.NewPasswordHasher("sha256")
	if err != nil {
		t.Fatalf("NewPasswordHasher returned error: %v", err)
	}

	auth := NewAuthHandler(users, sessions, testSecret, AuthOptions{Limiter: limiter, Logger: discardLogger()})
	assignments := NewAssignmentHandler(ledger)
	userHandler := NewUserHandler(users, hasher)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, RequestLogger(logger))
	r.Get("/healthz", Healthz)
	r.Route("/auth", func(r chi.Router) { AuthRouter(r, auth) })
	r.Route("/devices", func(r chi.Router) { DeviceRouter(r, assignments, auth.RequireAuth) })
	r.Route("/assignments", func(r chi.Router) { AssignmentRouter(r, assignments, auth.RequireAuth) })
	r.Route("/admin/assignments", func(r chi.Router) { AdminAssignmentRouter(r, assignments, auth.RequireAuth) })
	r.Route("/users", func(r chi.Router) { UserRouter(r, userHandler, auth.RequireAuth) })

	return &testEnv{router: r, store: store, users: users, ledger: ledger, sessions: sessions}
}

// addUser registers a user whose password is stored with the legacy hash.
func (e *testEnv) addUser(t *testing.T, id string, role types.Role, password string) {
	t.Helper()
	_, err := e.users.Create(context.Background(), types.User{
		ID:           id,
		PasswordHash: services.LegacyHash(password),
		Role:         role,
		FirstName:    "Test",
		LastName:     id,
	})
	if err != nil {
		t.Fatalf("Create(%s) returned error: %v", id, err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, id, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{UserID: id, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", id, rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}
