package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/dmd/devicetracker/internal/db"
	"github.com/dmd/devicetracker/types"
	_ "github.com/lib/pq"
)

// setupPostgres needs TEST_DATABASE_URL; the test is skipped without it.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := conn.Ping(); err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Exec(`DROP TABLE IF EXISTS assignments, users, schema_migrations CASCADE`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := db.RunMigrations(dsn); err != nil {
		t.Fatalf("RunMigrations returned error: %v", err)
	}
	return conn
}

func TestPostgresStore_Users(t *testing.T) {
	s := NewPostgresStore(setupPostgres(t))
	ctx := context.Background()

	users := []types.User{
		{ID: "000001", PasswordHash: "h", Role: types.RoleCoach, FirstName: "Jelisha", LastName: "Joseph"},
		{ID: "2", PasswordHash: "h2", Role: types.RoleAthlete},
	}
	if err := s.SaveUsers(ctx, users); err != nil {
		t.Fatalf("SaveUsers returned error: %v", err)
	}
	if err := s.SaveUsers(ctx, users[:1]); err != nil {
		t.Fatalf("SaveUsers returned error: %v", err)
	}

	loaded, err := s.LoadUsers(ctx)
	if err != nil {
		t.Fatalf("LoadUsers returned error: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != users[0] {
		t.Errorf("LoadUsers() = %+v, want only the first user", loaded)
	}
}

func TestPostgresStore_Assignments(t *testing.T) {
	s := NewPostgresStore(setupPostgres(t))
	ctx := context.Background()

	out := time.Date(2024, 2, 1, 10, 0, 0, 123000, time.UTC)
	in := out.Add(time.Hour)
	records := []types.Assignment{
		{ID: 1, DeviceID: 3, UserID: "2", DeviceType: types.DeviceTypeAthlete, CheckoutTime: out},
	}
	if err := s.SaveAssignments(ctx, records); err != nil {
		t.Fatalf("SaveAssignments returned error: %v", err)
	}

	records[0].CheckinTime = &in
	records = append(records, types.Assignment{ID: 2, DeviceID: 3, UserID: "2", DeviceType: types.DeviceTypeAthlete, CheckoutTime: in})
	if err := s.SaveAssignments(ctx, records); err != nil {
		t.Fatalf("SaveAssignments returned error: %v", err)
	}

	loaded, err := s.LoadAssignments(ctx)
	if err != nil {
		t.Fatalf("LoadAssignments returned error: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len = %d, want 2", len(loaded))
	}
	if loaded[0].CheckinTime == nil || !loaded[0].CheckinTime.Equal(in) || !loaded[0].CheckoutTime.Equal(out) {
		t.Errorf("record 1 = %+v", loaded[0])
	}
	if loaded[1].CheckinTime != nil {
		t.Errorf("record 2 should be open: %+v", loaded[1])
	}

	conflict := append(records, types.Assignment{ID: 3, DeviceID: 3, UserID: "9", DeviceType: types.DeviceTypeAthlete, CheckoutTime: in})
	if err := s.SaveAssignments(ctx, conflict); err == nil {
		t.Error("expected the active device index to reject a second open record")
	}
}
