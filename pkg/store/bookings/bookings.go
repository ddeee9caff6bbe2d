// Package bookings persists confirmed viewing bookings in Postgres.
// Calendar events are the source of truth for scheduling; this table is
// the queryable record tying bookings back to sessions.
package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Booking is one confirmed viewing.
type Booking struct {
	ID             uuid.UUID `json:"id"`
	SessionID      string    `json:"session_id"`
	ListingAddress string    `json:"listing_address"`
	CallerName     string    `json:"caller_name"`
	CallerEmail    string    `json:"caller_email"`
	StartsAt       time.Time `json:"starts_at"`
	CalendarEvent  string    `json:"calendar_event_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store reads and writes bookings.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert records a booking and returns it with generated fields set.
func (s *Store) Insert(ctx context.Context, b Booking) (Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	const q = `
		INSERT INTO bookings (id, session_id, listing_address, caller_name, caller_email, starts_at, calendar_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		b.ID, b.SessionID, b.ListingAddress, b.CallerName, b.CallerEmail, b.StartsAt, b.CalendarEvent,
	).Scan(&b.CreatedAt)
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

// BySession returns the bookings made during one session.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Booking, error) {
	const q = `
		SELECT id, session_id, listing_address, caller_name, caller_email, starts_at, calendar_event_id, created_at
		FROM bookings
		WHERE session_id = $1
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// Upcoming returns bookings starting at or after the given time.
func (s *Store) Upcoming(ctx context.Context, from time.Time, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, session_id, listing_address, caller_name, caller_email, starts_at, calendar_event_id, created_at
		FROM bookings
		WHERE starts_at >= $1
		ORDER BY starts_at
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, from, limit)
	if err != nil {
		return nil, fmt.Errorf("query upcoming bookings: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBookings(rows pgx.Rows) ([]Booking, error) {
	var out []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(
			&b.ID, &b.SessionID, &b.ListingAddress, &b.CallerName,
			&b.CallerEmail, &b.StartsAt, &b.CalendarEvent, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}
