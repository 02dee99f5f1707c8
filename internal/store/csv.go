package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dmd/devicetracker/internal/storage"
	"github.com/dmd/devicetracker/types"
)

const (
	// UsersObject and AssignmentsObject keep the file names of the first
	// version of the tracker so existing data directories load unchanged.
	UsersObject       = "users.csv"
	AssignmentsObject = "device_assignments.csv"

	csvContentType = "text/csv"
)

var (
	userHeader       = []string{"username", "password", "role", "first_name", "last_name"}
	assignmentHeader = []string{"id", "device_id", "employee_name", "checkout_time", "checkin_time", "device_type"}
)

// Accepted timestamp layouts, tried in order. The space separated forms are
// what older data files contain.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// ObjectStore persists users and assignments as two CSV objects in an
// object storage bucket or a local directory.
type ObjectStore struct {
	storage *storage.Storage
}

func NewObjectStore(s *storage.Storage) *ObjectStore {
	return &ObjectStore{storage: s}
}

// LoadUsers reads the user roster. A missing object yields no users.
func (s *ObjectStore) LoadUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.readRows(ctx, UsersObject)
	if err != nil || rows == nil {
		return nil, err
	}

	cols, err := columnIndex(rows[0], userHeader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", UsersObject, err)
	}
	users := make([]types.User, 0, len(rows)-1)
	for i, row := range rows[1:] {
		role, ok := types.ParseRole(field(row, cols, "role"))
		if !ok {
			return nil, fmt.Errorf("%s line %d: %w: role %q", UsersObject, i+2, ErrMalformedRecord, field(row, cols, "role"))
		}
		users = append(users, types.User{
			ID:           strings.TrimSpace(field(row, cols, "username")),
			PasswordHash: field(row, cols, "password"),
			Role:         role,
			FirstName:    field(row, cols, "first_name"),
			LastName:     field(row, cols, "last_name"),
		})
	}
	return users, nil
}

// SaveUsers replaces the roster object.
func (s *ObjectStore) SaveUsers(ctx context.Context, users []types.User) error {
	rows := make([][]string, 0, len(users)+1)
	rows = append(rows, userHeader)
	for _, u := range users {
		rows = append(rows, []string{u.ID, u.PasswordHash, string(u.Role), u.FirstName, u.LastName})
	}
	return s.writeRows(ctx, UsersObject, rows)
}

// LoadAssignments reads the ledger. A missing object yields no records.
// Files without an id column get ids assigned by the ledger.
func (s *ObjectStore) LoadAssignments(ctx context.Context) ([]types.Assignment, error) {
	rows, err := s.readRows(ctx, AssignmentsObject)
	if err != nil || rows == nil {
		return nil, err
	}

	cols, err := columnIndex(rows[0], assignmentHeader[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AssignmentsObject, err)
	}
	out := make([]types.Assignment, 0, len(rows)-1)
	for i, row := range rows[1:] {
		a, err := decodeAssignment(row, cols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", AssignmentsObject, i+2, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// SaveAssignments replaces the ledger object.
func (s *ObjectStore) SaveAssignments(ctx context.Context, assignments []types.Assignment) error {
	rows := make([][]string, 0, len(assignments)+1)
	rows = append(rows, assignmentHeader)
	for _, a := range assignments {
		checkin := ""
		if a.CheckinTime != nil {
			checkin = a.CheckinTime.UTC().Format(time.RFC3339Nano)
		}
		rows = append(rows, []string{
			strconv.FormatInt(a.ID, 10),
			strconv.Itoa(a.DeviceID),
			a.UserID,
			a.CheckoutTime.UTC().Format(time.RFC3339Nano),
			checkin,
			a.DeviceType.Label(),
		})
	}
	return s.writeRows(ctx, AssignmentsObject, rows)
}

func decodeAssignment(row []string, cols map[string]int) (types.Assignment, error) {
	var a types.Assignment

	if raw := strings.TrimSpace(field(row, cols, "id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return a, fmt.Errorf("%w: id %q", ErrMalformedRecord, raw)
		}
		a.ID = id
	}

	rawDevice := strings.TrimSpace(field(row, cols, "device_id"))
	deviceID, err := strconv.Atoi(rawDevice)
	if err != nil {
		// Spreadsheet exports sometimes write integer columns as floats.
		f, ferr := strconv.ParseFloat(rawDevice, 64)
		if ferr != nil || f != float64(int(f)) {
			return a, fmt.Errorf("%w: device_id %q", ErrMalformedRecord, rawDevice)
		}
		deviceID = int(f)
	}
	a.DeviceID = deviceID

	a.UserID = strings.TrimSpace(field(row, cols, "employee_name"))

	checkout, err := parseTime(field(row, cols, "checkout_time"))
	if err != nil {
		return a, err
	}
	a.CheckoutTime = checkout

	if raw := strings.TrimSpace(field(row, cols, "checkin_time")); raw != "" && !strings.EqualFold(raw, "nan") && !strings.EqualFold(raw, "nat") {
		checkin, err := parseTime(raw)
		if err != nil {
			return a, err
		}
		a.CheckinTime = &checkin
	}

	if deviceType, ok := types.ParseDeviceType(field(row, cols, "device_type")); ok {
		a.DeviceType = deviceType
	}
	return a, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, raw)
}

// columnIndex maps header names to positions. Every name in required must
// be present; other columns are tolerated.
func columnIndex(header, required []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedRecord, name)
		}
	}
	return cols, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (s *ObjectStore) readRows(ctx context.Context, key string) ([][]string, error) {
	data, err := s.storage.ReadObject(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows, nil
}

func (s *ObjectStore) writeRows(ctx context.Context, key string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.storage.WriteObject(ctx, key, buf.Bytes(), csvContentType)
}
