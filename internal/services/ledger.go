package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmd/devicetracker/types"
)

const defaultNotifyTimeout = 5 * time.Second

// AssignmentStore defines persistence operations for the assignment ledger.
type AssignmentStore interface {
	LoadAssignments(ctx context.Context) ([]types.Assignment, error)
	SaveAssignments(ctx context.Context, assignments []types.Assignment) error
}

// Recorder receives ledger metrics.
type Recorder interface {
	RecordCheckout(deviceType types.DeviceType)
	RecordCheckin(deviceType types.DeviceType)
	RecordRejected(reason string)
	RecordPersistenceFailure(store string)
	SetActive(deviceType types.DeviceType, count int)
}

// Notifier receives an event after every committed ledger change.
type Notifier interface {
	Notify(ctx context.Context, event types.AssignmentEvent) error
}

// UserLookup resolves assignment targets.
type UserLookup interface {
	FindByID(id string) (types.User, bool)
}

// LedgerOptions carries the optional collaborators of an AssignmentLedger.
type LedgerOptions struct {
	Users    UserLookup
	Recorder Recorder
	Notifier Notifier
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type holdKey struct {
	userID     string
	deviceType types.DeviceType
}

// AssignmentLedger is the record of every checkout and return. A single
// mutex makes each check-then-write step, including its persistence,
// indivisible.
type AssignmentLedger struct {
	mu      sync.Mutex
	store   AssignmentStore
	records []types.Assignment
	// active maps a device id to the index of its open record.
	active map[int]int
	// held maps (user, type) to the index of the open record.
	held   map[holdKey]int
	nextID int64
	// loadErr is set when the stored ledger could not be read. Writes are
	// then refused so closed records are never overwritten.
	loadErr error

	users    UserLookup
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
	clock    func() time.Time
}

// NewAssignmentLedger loads the ledger from store. A failed load is logged
// and the ledger starts empty without writing back to store.
func NewAssignmentLedger(ctx context.Context, store AssignmentStore, opts LedgerOptions) *AssignmentLedger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &AssignmentLedger{
		store:    store,
		active:   make(map[int]int),
		held:     make(map[holdKey]int),
		nextID:   1,
		users:    opts.Users,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		logger:   logger.With("component", "assignment_ledger"),
		clock:    opts.Now,
	}
	if l.recorder == nil {
		l.recorder = nopRecorder{}
	}
	if l.clock == nil {
		l.clock = time.Now
	}

	loaded, err := store.LoadAssignments(ctx)
	if err != nil {
		l.logger.Error("load assignments failed, ledger is not persisted until restart", "error", err)
		l.loadErr = err
		loaded = nil
	}
	l.restore(loaded)

	for _, deviceType := range types.DeviceTypes {
		l.recorder.SetActive(deviceType, l.countActiveLocked(deviceType))
	}
	l.logger.Info("assignment ledger ready", "records", len(l.records), "active", len(l.active))
	return l
}

// restore rebuilds the indexes from loaded records. Device types are
// re-derived from the id; an open record that conflicts with an earlier one
// is closed at its own checkout time.
func (l *AssignmentLedger) restore(loaded []types.Assignment) {
	for _, record := range loaded {
		if record.ID >= l.nextID {
			l.nextID = record.ID + 1
		}
	}

	for _, record := range loaded {
		deviceType, ok := types.DeviceTypeOf(record.DeviceID)
		if !ok {
			l.logger.Warn("dropping record with invalid device id", "assignment_id", record.ID, "device_id", record.DeviceID)
			continue
		}
		if record.DeviceType != deviceType {
			l.logger.Warn("correcting device type", "assignment_id", record.ID, "stored", record.DeviceType, "derived", deviceType)
			record.DeviceType = deviceType
		}
		if record.ID == 0 {
			record.ID = l.nextID
			l.nextID++
		}
		record.CheckoutTime = record.CheckoutTime.UTC()
		if record.CheckinTime != nil {
			in := record.CheckinTime.UTC()
			if in.Before(record.CheckoutTime) {
				in = record.CheckoutTime
			}
			record.CheckinTime = &in
		}

		key := holdKey{userID: record.UserID, deviceType: deviceType}
		if record.Active() {
			_, deviceBusy := l.active[record.DeviceID]
			_, userHolds := l.held[key]
			if deviceBusy || userHolds {
				l.logger.Warn("closing conflicting open record", "assignment_id", record.ID, "device_id", record.DeviceID, "user_id", record.UserID)
				closed := record.CheckoutTime
				record.CheckinTime = &closed
			}
		}

		l.records = append(l.records, record)
		if record.Active() {
			idx := len(l.records) - 1
			l.active[record.DeviceID] = idx
			l.held[key] = idx
		}
	}
}

// Checkout hands a device to a user.
func (l *AssignmentLedger) Checkout(ctx context.Context, userID string, deviceID int) (types.Assignment, error) {
	deviceType, ok := types.DeviceTypeOf(deviceID)
	if !ok {
		l.recorder.RecordRejected("invalid_device")
		return types.Assignment{}, fmt.Errorf("checkout device %d: %w", deviceID, ErrInvalidDevice)
	}
	return l.assign(ctx, userID, deviceID, deviceType)
}

// AdminAssign checks a device out on behalf of another user. The same
// invariants as Checkout apply to the target user.
func (l *AssignmentLedger) AdminAssign(ctx context.Context, userID string, deviceID int, deviceType types.DeviceType) (types.Assignment, error) {
	actual, ok := types.DeviceTypeOf(deviceID)
	if !ok {
		l.recorder.RecordRejected("invalid_device")
		return types.Assignment{}, fmt.Errorf("assign device %d: %w", deviceID, ErrInvalidDevice)
	}
	if deviceType != actual {
		l.recorder.RecordRejected("type_mismatch")
		return types.Assignment{}, fmt.Errorf("assign device %d as %s: %w", deviceID, deviceType, ErrDeviceTypeMismatch)
	}
	if l.users != nil {
		if _, ok := l.users.FindByID(userID); !ok {
			l.recorder.RecordRejected("unknown_user")
			return types.Assignment{}, fmt.Errorf("assign to user %s: %w", userID, ErrNotFound)
		}
	}
	return l.assign(ctx, userID, deviceID, deviceType)
}

// Checkin closes the open assignment of a device.
func (l *AssignmentLedger) Checkin(ctx context.Context, deviceID int) (types.Assignment, error) {
	return l.release(ctx, deviceID, "")
}

// CheckinBy closes the open assignment of a device only if userID holds it.
// The holder check and the release happen under the same lock.
func (l *AssignmentLedger) CheckinBy(ctx context.Context, userID string, deviceID int) (types.Assignment, error) {
	return l.release(ctx, deviceID, userID)
}

// ForceReturn is the administrative form of Checkin.
func (l *AssignmentLedger) ForceReturn(ctx context.Context, deviceID int) (types.Assignment, error) {
	return l.release(ctx, deviceID, "")
}

func (l *AssignmentLedger) assign(ctx context.Context, userID string, deviceID int, deviceType types.DeviceType) (types.Assignment, error) {
	c, err := l.assignLocked(ctx, userID, deviceID, deviceType)
	if err != nil {
		return types.Assignment{}, err
	}

	l.recorder.RecordCheckout(deviceType)
	l.recorder.SetActive(deviceType, c.active)
	l.logger.Info("device checked out", "assignment_id", c.record.ID, "device_id", deviceID, "user_id", userID, "actor", ActorFromContext(ctx))
	l.notify(ctx, types.EventCheckedOut, c.record)
	return c.record, c.saveErr
}

// commit is the outcome of a locked mutation: the committed record, the
// number of open records of its type and the result of persisting it.
type commit struct {
	record  types.Assignment
	active  int
	saveErr error
}

func (l *AssignmentLedger) assignLocked(ctx context.Context, userID string, deviceID int, deviceType types.DeviceType) (commit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[deviceID]; busy {
		l.recorder.RecordRejected("device_unavailable")
		return commit{}, fmt.Errorf("checkout device %d: %w", deviceID, ErrDeviceUnavailable)
	}
	key := holdKey{userID: userID, deviceType: deviceType}
	if _, holds := l.held[key]; holds {
		l.recorder.RecordRejected("quota_exceeded")
		return commit{}, fmt.Errorf("checkout %s for user %s: %w", deviceType.Label(), userID, ErrQuotaExceeded)
	}

	record := types.Assignment{
		ID:           l.nextID,
		DeviceID:     deviceID,
		UserID:       userID,
		DeviceType:   deviceType,
		CheckoutTime: l.now(),
	}
	l.nextID++
	l.records = append(l.records, record)
	idx := len(l.records) - 1
	l.active[deviceID] = idx
	l.held[key] = idx

	saveErr := l.persistLocked(ctx)
	return commit{record: record.Clone(), active: l.countActiveLocked(deviceType), saveErr: saveErr}, nil
}

// release closes the open record of deviceID. A non-empty owner must be the
// holder of that record.
func (l *AssignmentLedger) release(ctx context.Context, deviceID int, owner string) (types.Assignment, error) {
	if _, ok := types.DeviceTypeOf(deviceID); !ok {
		l.recorder.RecordRejected("invalid_device")
		return types.Assignment{}, fmt.Errorf("return device %d: %w", deviceID, ErrInvalidDevice)
	}

	c, err := l.releaseLocked(ctx, deviceID, owner)
	if err != nil {
		return types.Assignment{}, err
	}

	l.recorder.RecordCheckin(c.record.DeviceType)
	l.recorder.SetActive(c.record.DeviceType, c.active)
	l.logger.Info("device returned", "assignment_id", c.record.ID, "device_id", deviceID, "user_id", c.record.UserID, "actor", ActorFromContext(ctx))
	l.notify(ctx, types.EventCheckedIn, c.record)
	return c.record, c.saveErr
}

func (l *AssignmentLedger) releaseLocked(ctx context.Context, deviceID int, owner string) (commit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.active[deviceID]
	if !ok {
		l.recorder.RecordRejected("not_checked_out")
		return commit{}, fmt.Errorf("return device %d: %w", deviceID, ErrNotCheckedOut)
	}

	record := &l.records[idx]
	if owner != "" && record.UserID != owner {
		l.recorder.RecordRejected("not_holder")
		return commit{}, fmt.Errorf("return device %d by user %s: %w", deviceID, owner, ErrForbidden)
	}
	checkin := l.now()
	if checkin.Before(record.CheckoutTime) {
		checkin = record.CheckoutTime
	}
	record.CheckinTime = &checkin
	delete(l.active, deviceID)
	delete(l.held, holdKey{userID: record.UserID, deviceType: record.DeviceType})

	saveErr := l.persistLocked(ctx)
	return commit{record: record.Clone(), active: l.countActiveLocked(record.DeviceType), saveErr: saveErr}, nil
}

// Active returns every open assignment in ledger order.
func (l *AssignmentLedger) Active() []types.Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.Assignment, 0, len(l.active))
	for _, record := range l.records {
		if record.Active() {
			out = append(out, record.Clone())
		}
	}
	return out
}

// ActiveForDevice returns the open assignment of a device, if any.
func (l *AssignmentLedger) ActiveForDevice(deviceID int) (types.Assignment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.active[deviceID]
	if !ok {
		return types.Assignment{}, false
	}
	return l.records[idx].Clone(), true
}

// ActiveForUser returns the open assignments held by a user.
func (l *AssignmentLedger) ActiveForUser(userID string) []types.Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.Assignment
	for _, deviceType := range types.DeviceTypes {
		if idx, ok := l.held[holdKey{userID: userID, deviceType: deviceType}]; ok {
			out = append(out, l.records[idx].Clone())
		}
	}
	return out
}

// History returns the matching records, newest checkout first.
func (l *AssignmentLedger) History(filter types.HistoryFilter) []types.Assignment {
	l.mu.Lock()
	out := make([]types.Assignment, 0, len(l.records))
	for _, record := range l.records {
		if filter.Matches(record) {
			out = append(out, record.Clone())
		}
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CheckoutTime.Equal(out[j].CheckoutTime) {
			return out[i].CheckoutTime.After(out[j].CheckoutTime)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Available lists the devices of a type that nobody holds.
func (l *AssignmentLedger) Available(deviceType types.DeviceType) []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []int
	for _, id := range types.DeviceIDs(deviceType) {
		if _, busy := l.active[id]; !busy {
			out = append(out, id)
		}
	}
	return out
}

// Devices describes the whole pool with current holders.
func (l *AssignmentLedger) Devices() []types.DeviceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.DeviceStatus, 0, types.MaxDeviceID)
	for _, deviceType := range types.DeviceTypes {
		for _, id := range types.DeviceIDs(deviceType) {
			status := types.DeviceStatus{ID: id, Type: deviceType}
			if idx, busy := l.active[id]; busy {
				holder := l.records[idx].Clone()
				status.Holder = &holder
			}
			out = append(out, status)
		}
	}
	return out
}

func (l *AssignmentLedger) countActiveLocked(deviceType types.DeviceType) int {
	count := 0
	for key := range l.held {
		if key.deviceType == deviceType {
			count++
		}
	}
	return count
}

// Degraded reports whether the stored ledger failed to load.
func (l *AssignmentLedger) Degraded() bool {
	return l.loadErr != nil
}

func (l *AssignmentLedger) persistLocked(ctx context.Context) error {
	if l.loadErr != nil {
		l.recorder.RecordPersistenceFailure("assignments")
		return fmt.Errorf("%w: assignments not loaded: %w", ErrPersistence, l.loadErr)
	}
	snapshot := make([]types.Assignment, len(l.records))
	for i, record := range l.records {
		snapshot[i] = record.Clone()
	}
	if err := l.store.SaveAssignments(ctx, snapshot); err != nil {
		l.recorder.RecordPersistenceFailure("assignments")
		l.logger.Error("save assignments failed", "error", err)
		return fmt.Errorf("%w: save assignments: %w", ErrPersistence, err)
	}
	return nil
}

func (l *AssignmentLedger) notify(ctx context.Context, eventType types.EventType, record types.Assignment) {
	if l.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNotifyTimeout)
	defer cancel()

	event := types.AssignmentEvent{
		Type:       eventType,
		Assignment: record,
		Actor:      ActorFromContext(ctx),
		OccurredAt: l.now(),
	}
	if err := l.notifier.Notify(ctx, event); err != nil {
		l.logger.Warn("publish assignment event failed", "event", eventType, "assignment_id", record.ID, "error", err)
	}
}

func (l *AssignmentLedger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}

type actorKey struct{}

// WithActor tags ctx with the id of the user performing a ledger change.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the id stored by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

type nopRecorder struct{}

func (nopRecorder) RecordCheckout(types.DeviceType) {}
func (nopRecorder) RecordCheckin(types.DeviceType) {}
func (nopRecorder) RecordRejected(string) {}
func (nopRecorder) RecordPersistenceFailure(string) {}
func (nopRecorder) SetActive(types.DeviceType, int) {}
