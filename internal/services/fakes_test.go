package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmd/devicetracker/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore keeps saved snapshots in memory. The function fields override
// the default behaviour when set.
type memoryStore struct {
	mu          sync.Mutex
	users       []types.User
	assignments []types.Assignment
	userSaves   int
	ledgerSaves int

	loadUsersFn       func(ctx context.Context) ([]types.User, error)
	saveUsersFn       func(ctx context.Context, users []types.User) error
	loadAssignmentsFn func(ctx context.Context) ([]types.Assignment, error)
	saveAssignmentsFn func(ctx context.Context, assignments []types.Assignment) error
}

func (m *memoryStore) LoadUsers(ctx context.Context) ([]types.User, error) {
	if m.loadUsersFn != nil {
		return m.loadUsersFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.User(nil), m.users...), nil
}

func (m *memoryStore) SaveUsers(ctx context.Context, users []types.User) error {
	m.mu.Lock()
	m.userSaves++
	m.mu.Unlock()
	if m.saveUsersFn != nil {
		return m.saveUsersFn(ctx, users)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append([]types.User(nil), users...)
	return nil
}

func (m *memoryStore) LoadAssignments(ctx context.Context) ([]types.Assignment, error) {
	if m.loadAssignmentsFn != nil {
		return m.loadAssignmentsFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Assignment(nil), m.assignments...), nil
}

func (m *memoryStore) SaveAssignments(ctx context.Context, assignments []types.Assignment) error {
	m.mu.Lock()
	m.ledgerSaves++
	m.mu.Unlock()
	if m.saveAssignmentsFn != nil {
		return m.saveAssignmentsFn(ctx, assignments)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append([]types.Assignment(nil), assignments...)
	return nil
}

type mockRecorder struct {
	mu        sync.Mutex
	checkouts int
	checkins  int
	rejected  map[string]int
	failures  int
	active    map[types.DeviceType]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{rejected: map[string]int{}, active: map[types.DeviceType]int{}}
}

func (r *mockRecorder) RecordCheckout(types.DeviceType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkouts++
}

func (r *mockRecorder) RecordCheckin(types.DeviceType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkins++
}

func (r *mockRecorder) RecordRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[reason]++
}

func (r *mockRecorder) RecordPersistenceFailure(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *mockRecorder) SetActive(deviceType types.DeviceType, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[deviceType] = count
}

type mockNotifier struct {
	notifyFn func(ctx context.Context, event types.AssignmentEvent) error
}

func (m *mockNotifier) Notify(ctx context.Context, event types.AssignmentEvent) error {
	if m.notifyFn != nil {
		return m.notifyFn(ctx, event)
	}
	return nil
}

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestLedger(store *memoryStore, opts LedgerOptions) *AssignmentLedger {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Now == nil {
		opts.Now = newStepClock().Now
	}
	return NewAssignmentLedger(context.Background(), store, opts)
}
