package types

import "time"

// Assignment records one checkout of a device by a user. It is created on
// checkout and closed exactly once, when the device is returned.
type Assignment struct {
	// ID is the ledger sequence number of the record, starting at 1.
	ID int64 `json:"id" db:"id"`

	// DeviceID identifies the device that was checked out (1 to 50).
	DeviceID int `json:"device_id" db:"device_id"`

	// UserID identifies the user holding the device.
	UserID string `json:"user_id" db:"user_id"`

	// DeviceType is always consistent with DeviceTypeOf(DeviceID).
	DeviceType DeviceType `json:"device_type" db:"device_type"`

	// CheckoutTime is when the device was handed out.
	CheckoutTime time.Time `json:"checkout_time" db:"checkout_time"`

	// CheckinTime is when the device came back. Nil while the device is out.
	CheckinTime *time.Time `json:"checkin_time" db:"checkin_time"`
}

// Active reports whether the device is still checked out.
func (a Assignment) Active() bool {
	return a.CheckinTime == nil
}

// Clone returns a copy that shares no memory with a.
func (a Assignment) Clone() Assignment {
	if a.CheckinTime != nil {
		t := *a.CheckinTime
		a.CheckinTime = &t
	}
	return a
}

// HistoryFilter narrows a history query. Nil fields match everything;
// Start and End bound the checkout time inclusively.
type HistoryFilter struct {
	DeviceID   *int
	DeviceType *DeviceType
	UserID     *string
	Start      *time.Time
	End        *time.Time
}

// Matches reports whether the assignment satisfies every set predicate.
func (f HistoryFilter) Matches(a Assignment) bool {
	if f.DeviceID != nil && a.DeviceID != *f.DeviceID {
		return false
	}
	if f.DeviceType != nil && a.DeviceType != *f.DeviceType {
		return false
	}
	if f.UserID != nil && a.UserID != *f.UserID {
		return false
	}
	if f.Start != nil && a.CheckoutTime.Before(*f.Start) {
		return false
	}
	if f.End != nil && a.CheckoutTime.After(*f.End) {
		return false
	}
	return true
}

// EventType names a change to the ledger.
type EventType string

const (
	EventCheckedOut EventType = "checked_out"
	EventCheckedIn  EventType = "checked_in"
)

// AssignmentEvent is published after every successful ledger mutation.
type AssignmentEvent struct {
	Type       EventType  `json:"type"`
	Assignment Assignment `json:"assignment"`
	// Actor is the user who performed the change; empty when unknown.
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
