// Package caller tracks what is known about the person on the line.
// Fields fill in progressively as workflow steps complete and their
// signal fields are mapped onto the state.
package caller

import (
	"fmt"
	"strconv"
	"sync"
)

// State is the mutable per-call record. All access goes through methods;
// the audio loop and the admin API read it concurrently.
type State struct {
	mu sync.Mutex

	CallSID     string `json:"call_sid"`
	PhoneNumber string `json:"phone_number"`

	// Preferences gathered during conversation.
	Bedrooms      *int   `json:"bedrooms,omitempty"`
	MaxBudget     *int   `json:"max_budget,omitempty"`
	PreferredArea string `json:"preferred_area,omitempty"`
	MoveInDate    string `json:"move_in_date,omitempty"`

	// Selected listing.
	SelectedListingID      string `json:"selected_listing_id,omitempty"`
	SelectedListingAddress string `json:"selected_listing_address,omitempty"`

	// Booking details.
	SelectedTimeSlot string `json:"selected_time_slot,omitempty"`
	CallerName       string `json:"caller_name,omitempty"`
	CallerEmail      string `json:"caller_email,omitempty"`

	// Booking result.
	BookingEventID   string `json:"booking_event_id,omitempty"`
	BookingConfirmed bool   `json:"booking_confirmed"`
}

// Set assigns a field by its schema name, coercing JSON-decoded values
// (numbers arrive as float64). Unknown names are an error so workflow
// typos surface instead of silently dropping data.
func (s *State) Set(field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case "call_sid":
		s.CallSID = asString(value)
	case "phone_number":
		s.PhoneNumber = asString(value)
	case "bedrooms":
		n, err := asInt(value)
		if err != nil {
			return fmt.Errorf("bedrooms: %w", err)
		}
		s.Bedrooms = &n
	case "max_budget":
		n, err := asInt(value)
		if err != nil {
			return fmt.Errorf("max_budget: %w", err)
		}
		s.MaxBudget = &n
	case "preferred_area":
		s.PreferredArea = asString(value)
	case "move_in_date":
		s.MoveInDate = asString(value)
	case "selected_listing_id":
		s.SelectedListingID = asString(value)
	case "selected_listing_address":
		s.SelectedListingAddress = asString(value)
	case "selected_time_slot":
		s.SelectedTimeSlot = asString(value)
	case "caller_name":
		s.CallerName = asString(value)
	case "caller_email":
		s.CallerEmail = asString(value)
	case "booking_event_id":
		s.BookingEventID = asString(value)
	case "booking_confirmed":
		b, _ := value.(bool)
		s.BookingConfirmed = b
	default:
		return fmt.Errorf("unknown caller field %q", field)
	}
	return nil
}

// Get returns a field by its schema name as a string for prompt and
// tool-argument interpolation. Unset fields are "".
func (s *State) Get(field string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case "call_sid":
		return s.CallSID
	case "phone_number":
		return s.PhoneNumber
	case "bedrooms":
		return intString(s.Bedrooms)
	case "max_budget":
		return intString(s.MaxBudget)
	case "preferred_area":
		return s.PreferredArea
	case "move_in_date":
		return s.MoveInDate
	case "selected_listing_id":
		return s.SelectedListingID
	case "selected_listing_address":
		return s.SelectedListingAddress
	case "selected_time_slot":
		return s.SelectedTimeSlot
	case "caller_name":
		return s.CallerName
	case "caller_email":
		return s.CallerEmail
	case "booking_event_id":
		return s.BookingEventID
	case "booking_confirmed":
		return strconv.FormatBool(s.BookingConfirmed)
	default:
		return ""
	}
}

// Snapshot returns a copy safe to serialize without holding the lock.
func (s *State) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := State{
		CallSID:                s.CallSID,
		PhoneNumber:            s.PhoneNumber,
		PreferredArea:          s.PreferredArea,
		MoveInDate:             s.MoveInDate,
		SelectedListingID:      s.SelectedListingID,
		SelectedListingAddress: s.SelectedListingAddress,
		SelectedTimeSlot:       s.SelectedTimeSlot,
		CallerName:             s.CallerName,
		CallerEmail:            s.CallerEmail,
		BookingEventID:         s.BookingEventID,
		BookingConfirmed:       s.BookingConfirmed,
	}
	if s.Bedrooms != nil {
		n := *s.Bedrooms
		out.Bedrooms = &n
	}
	if s.MaxBudget != nil {
		n := *s.MaxBudget
		out.MaxBudget = &n
	}
	return out
}

// Redact masks a PII value for logs: first three and last two characters
// only, fully masked when too short to keep anything.
func Redact(value string) string {
	if len(value) <= 5 {
		if value == "" {
			return ""
		}
		return "***"
	}
	return value[:3] + "***" + value[len(value)-2:]
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func intString(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
