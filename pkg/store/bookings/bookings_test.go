package bookings

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests run against a real Postgres when
// LOFTCALL_TEST_DATABASE_URL is set, and skip otherwise.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LOFTCALL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LOFTCALL_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	if err := Migrate(ctx, dsn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "TRUNCATE bookings")
		pool.Close()
	})
	return New(pool)
}

func TestInsertAndBySession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	starts := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	b, err := s.Insert(ctx, Booking{
		SessionID:      "sess-a",
		ListingAddress: "812 Congress Ave",
		CallerName:     "Pat Winters",
		CallerEmail:    "pat@example.com",
		StartsAt:       starts,
		CalendarEvent:  "evt_123",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if b.ID.String() == "" || b.CreatedAt.IsZero() {
		t.Fatalf("generated fields not set: %+v", b)
	}

	if _, err := s.Insert(ctx, Booking{
		SessionID:      "sess-b",
		ListingAddress: "44 Rainey St",
		CallerName:     "Sam Ortiz",
		CallerEmail:    "sam@example.com",
		StartsAt:       starts.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.BySession(ctx, "sess-a")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 1 || got[0].ListingAddress != "812 Congress Ave" {
		t.Fatalf("BySession = %+v", got)
	}
	if !got[0].StartsAt.Equal(starts) {
		t.Fatalf("StartsAt = %v, want %v", got[0].StartsAt, starts)
	}
}

func TestUpcoming(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	for i, h := range []int{48, 0, 24} {
		_, err := s.Insert(ctx, Booking{
			SessionID:      "sess-upcoming",
			ListingAddress: "812 Congress Ave",
			CallerName:     "Pat Winters",
			CallerEmail:    "pat@example.com",
			StartsAt:       base.Add(time.Duration(h) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	got, err := s.Upcoming(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].StartsAt.Before(got[1].StartsAt) {
		t.Fatalf("not sorted by start time: %+v", got)
	}
}
