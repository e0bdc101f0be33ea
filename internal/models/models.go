package models

import (
	"fmt"
	"time"
)

// SessionType distinguishes remote and in-person appointments.
type SessionType string

const (
	TypeOnline  SessionType = "Online"
	TypeOffline SessionType = "Offline"
)

// Booking statuses. The ledger is append-only: cancellation flips the
// status field of the matching row, it never deletes the row.
type BookingStatus string

const (
	StatusActive    BookingStatus = "Active"
	StatusCancelled BookingStatus = "Cancelled"
)

const (
	// OnlineKey is the reserved location key for remote sessions.
	OnlineKey = "online"
	// OnlineCity is the display name stored in the ledger for remote sessions.
	OnlineCity = "Онлайн"
)

// AvailabilityMap maps a location key (city name or OnlineKey) to an
// unordered list of ISO-8601 slot timestamps. A timestamp appears at
// most once per location.
type AvailabilityMap map[string][]string

// Clone returns a deep copy of the map.
func (m AvailabilityMap) Clone() AvailabilityMap {
	out := make(AvailabilityMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Total returns the number of slots across all locations.
func (m AvailabilityMap) Total() int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

// Booking is one row of the booking ledger.
type Booking struct {
	ID         string
	CreatedAt  time.Time
	Type       SessionType
	City       string // display name, OnlineCity for remote sessions
	Slot       string // display-formatted, see FormatDisplaySlot
	FullName   string
	Phone      string
	ExternalID string
	Status     BookingStatus
}

// Client is one row of the client profile store. Variables is written
// by the messaging platform out-of-band; this system only reads and
// round-trips it.
type Client struct {
	ExternalID string
	FullName   string
	Phone      string
	City       string
	LastSync   time.Time
	Variables  map[string]any
}

// ActiveBooking is the read-only projection of the most recent Active
// ledger row for an identity.
type ActiveBooking struct {
	Type string `json:"type"`
	City string `json:"city"`
	Slot string `json:"slot"`
}

// UserData is the getUserData response shape.
type UserData struct {
	Exists        bool           `json:"exists"`
	FullName      string         `json:"full_name,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	City          string         `json:"city,omitempty"`
	Variables     map[string]any `json:"variables"`
	ActiveBooking *ActiveBooking `json:"activeBooking,omitempty"`
}

const displaySlotLayout = "02.01.2006 15:04"

// FormatDisplaySlot renders a slot instant the way it is stored in the
// ledger and shown to users.
func FormatDisplaySlot(t time.Time) string {
	return t.Format(displaySlotLayout)
}

// ParseDisplaySlot reconstructs the instant from its ledger display
// string. This is the single place the lossy round-trip lives.
func ParseDisplaySlot(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(displaySlotLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse display slot %q: %w", s, err)
	}
	return t, nil
}

// FormatISO renders a slot instant in its canonical storage form.
func FormatISO(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseISO parses a stored slot timestamp. Older maps may hold
// truncated forms without zone or seconds, so those are accepted too.
func ParseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse slot timestamp %q", s)
}
