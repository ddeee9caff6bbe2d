package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loftcall/loftcall/pkg/core"
)

// Slot is one open viewing window.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Event is a calendar event to create.
type Event struct {
	Summary      string
	Start        time.Time
	End          time.Time
	Description  string
	Attendees    []string
	AttendeeName string
	Location     string
}

// CreatedEvent is the provider's booking confirmation.
type CreatedEvent struct {
	EventID  string
	HTMLLink string
}

// CalendarProvider is the external calendar backend.
type CalendarProvider interface {
	// AvailableSlots returns open windows of the given duration within
	// [start, end].
	AvailableSlots(ctx context.Context, calendarID string, start, end time.Time, duration time.Duration) ([]Slot, error)

	// CreateEvent books an event and returns its identifiers.
	CreateEvent(ctx context.Context, calendarID string, event Event) (CreatedEvent, error)
}

// slotDuration is the standard viewing length.
const slotDuration = 30 * time.Minute

// CheckAvailability lists open viewing slots from the calendar.
type CheckAvailability struct {
	provider   CalendarProvider
	calendarID string
	loc        *time.Location
	now        func() time.Time
}

// NewCheckAvailability creates the availability tool. loc controls how
// dates are interpreted; nil means UTC.
func NewCheckAvailability(provider CalendarProvider, calendarID string, loc *time.Location) *CheckAvailability {
	if loc == nil {
		loc = time.UTC
	}
	return &CheckAvailability{
		provider:   provider,
		calendarID: calendarID,
		loc:        loc,
		now:        time.Now,
	}
}

// Name implements Tool.
func (t *CheckAvailability) Name() string { return "check_availability" }

// Description implements Tool.
func (t *CheckAvailability) Description() string {
	return "Check the calendar for available viewing time slots. " +
		"Returns a list of open slots over the requested date range."
}

// ParametersSchema implements Tool.
func (t *CheckAvailability) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date": map[string]any{
				"type":        "string",
				"description": "Start date in YYYY-MM-DD format. Defaults to today.",
			},
			"days_ahead": map[string]any{
				"type":        "integer",
				"description": "Number of days ahead to search for availability. Defaults to 3.",
			},
		},
		"required": []string{},
	}
}

// Execute implements Tool.
func (t *CheckAvailability) Execute(ctx context.Context, args map[string]string) (string, error) {
	daysAhead := 3
	if raw := args["days_ahead"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			daysAhead = n
		}
	}

	var start time.Time
	if raw := args["date"]; raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, t.loc)
		if err != nil {
			return fmt.Sprintf("Invalid date format: %q. Please use YYYY-MM-DD.", raw), nil
		}
		start = parsed
	} else {
		now := t.now().In(t.loc)
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.loc)
	}

	// Business hours window: 09:00 on the start day through 18:00 on the
	// last day of the range.
	rangeStart := start.Add(9 * time.Hour)
	rangeEnd := start.AddDate(0, 0, daysAhead).Add(18 * time.Hour)

	slots, err := t.provider.AvailableSlots(ctx, t.calendarID, rangeStart, rangeEnd, slotDuration)
	if err != nil {
		return "", core.NewToolExecError(t.Name(), err)
	}

	if len(slots) == 0 {
		return fmt.Sprintf("No available slots found between %s and %s.",
			rangeStart.Format("2006-01-02"), rangeEnd.Format("2006-01-02")), nil
	}

	var b strings.Builder
	b.WriteString("Available time slots:")
	for _, s := range slots {
		fmt.Fprintf(&b, "\n  - %s: %s to %s",
			s.Start.Format("Monday, January 02"),
			s.Start.Format("03:04 PM"),
			s.End.Format("03:04 PM"))
	}
	return b.String(), nil
}

// CreateBooking books a viewing on the calendar.
type CreateBooking struct {
	provider   CalendarProvider
	calendarID string
	loc        *time.Location
	duration   time.Duration

	// onBooked is called after a successful booking so the result can be
	// persisted outside the calendar.
	onBooked func(ctx context.Context, event Event, created CreatedEvent)
}

// NewCreateBooking creates the booking tool.
func NewCreateBooking(provider CalendarProvider, calendarID string, loc *time.Location) *CreateBooking {
	if loc == nil {
		loc = time.UTC
	}
	return &CreateBooking{
		provider:   provider,
		calendarID: calendarID,
		loc:        loc,
		duration:   slotDuration,
	}
}

// OnBooked registers a hook invoked after each successful booking.
func (t *CreateBooking) OnBooked(fn func(ctx context.Context, event Event, created CreatedEvent)) {
	t.onBooked = fn
}

// Name implements Tool.
func (t *CreateBooking) Name() string { return "create_booking" }

// Description implements Tool.
func (t *CreateBooking) Description() string {
	return "Book an apartment viewing by creating a calendar event. " +
		"Requires the listing address, date, time, caller name, and email."
}

// ParametersSchema implements Tool.
func (t *CreateBooking) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"listing_address": map[string]any{
				"type":        "string",
				"description": "Street address of the apartment listing.",
			},
			"date": map[string]any{
				"type":        "string",
				"description": "Viewing date in YYYY-MM-DD format.",
			},
			"time": map[string]any{
				"type":        "string",
				"description": "Viewing time in HH:MM (24-hour) format.",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Full name of the caller.",
			},
			"email": map[string]any{
				"type":        "string",
				"description": "Email address of the caller.",
			},
		},
		"required": []string{"listing_address", "date", "time", "name", "email"},
	}
}

// Execute implements Tool.
func (t *CreateBooking) Execute(ctx context.Context, args map[string]string) (string, error) {
	for _, required := range []string{"listing_address", "date", "time", "name", "email"} {
		if args[required] == "" {
			return "", core.NewToolExecError(t.Name(), MissingArg(t.Name(), required))
		}
	}

	start, err := time.ParseInLocation("2006-01-02 15:04", args["date"]+" "+args["time"], t.loc)
	if err != nil {
		return fmt.Sprintf("Invalid date/time: %s %s. Please use YYYY-MM-DD and HH:MM formats.",
			args["date"], args["time"]), nil
	}

	event := Event{
		Summary: "Apartment Viewing - " + args["listing_address"],
		Start:   start,
		End:     start.Add(t.duration),
		Description: fmt.Sprintf("Apartment viewing for %s (%s).\nProperty: %s",
			args["name"], args["email"], args["listing_address"]),
		Attendees:    []string{args["email"]},
		AttendeeName: args["name"],
		Location:     args["listing_address"],
	}

	created, err := t.provider.CreateEvent(ctx, t.calendarID, event)
	if err != nil {
		return "", core.NewToolExecError(t.Name(), err)
	}

	if t.onBooked != nil {
		t.onBooked(ctx, event, created)
	}

	confirmation := fmt.Sprintf(
		"Booking confirmed!\n  Event ID: %s\n  What: Apartment viewing at %s\n  When: %s\n  Who: %s (%s)",
		created.EventID,
		args["listing_address"],
		start.Format("Monday, January 02 at 03:04 PM"),
		args["name"], args["email"],
	)
	if created.HTMLLink != "" {
		confirmation += "\n  Calendar link: " + created.HTMLLink
	}
	return confirmation, nil
}
