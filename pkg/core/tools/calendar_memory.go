package tools

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryCalendar is a CalendarProvider backed by process memory.
// Deployments without an external calendar run on it; every
// business-hours slot starts free and booking an event blocks the
// overlapping window.
type InMemoryCalendar struct {
	mu     sync.Mutex
	events map[string][]Event
}

// NewInMemoryCalendar creates an empty calendar.
func NewInMemoryCalendar() *InMemoryCalendar {
	return &InMemoryCalendar{events: map[string][]Event{}}
}

// AvailableSlots implements CalendarProvider. Slots are aligned to the
// duration grid from 09:00 to 18:00 local time each day.
func (c *InMemoryCalendar) AvailableSlots(_ context.Context, calendarID string, start, end time.Time, duration time.Duration) ([]Slot, error) {
	c.mu.Lock()
	booked := append([]Event(nil), c.events[calendarID]...)
	c.mu.Unlock()

	var slots []Slot
	loc := start.Location()
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		dayOpen := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, loc)
		dayClose := time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, loc)
		for s := dayOpen; !s.Add(duration).After(dayClose); s = s.Add(duration) {
			e := s.Add(duration)
			if s.Before(start) || e.After(end) {
				continue
			}
			if overlapsAny(booked, s, e) {
				continue
			}
			slots = append(slots, Slot{Start: s, End: e})
		}
	}
	return slots, nil
}

// CreateEvent implements CalendarProvider.
func (c *InMemoryCalendar) CreateEvent(_ context.Context, calendarID string, event Event) (CreatedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[calendarID] = append(c.events[calendarID], event)
	return CreatedEvent{EventID: "evt_" + uuid.NewString()}, nil
}

func overlapsAny(events []Event, start, end time.Time) bool {
	for _, e := range events {
		if start.Before(e.End) && e.Start.Before(end) {
			return true
		}
	}
	return false
}
