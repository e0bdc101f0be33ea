// Package storage defines the persistence contract shared by the
// spreadsheet and sqlite backends.
package storage

import (
	"context"

	"okoshko/internal/models"
)

// Store is the spreadsheet-equivalent table store: a slots blob, an
// append-only booking ledger and a client profile table.
type Store interface {
	// LoadSlots reads the whole availability map. SaveSlots rewrites it
	// wholesale; two overlapping writers race with last-writer-wins.
	LoadSlots(ctx context.Context) (models.AvailabilityMap, error)
	SaveSlots(ctx context.Context, m models.AvailabilityMap) error

	// AppendBooking adds one ledger row.
	AppendBooking(ctx context.Context, b *models.Booking) error
	// CancelLatestActive flips the newest Active row for the identity to
	// Cancelled. Returns false if no Active row exists.
	CancelLatestActive(ctx context.Context, externalID string) (bool, error)
	// ActiveBooking returns the most recent Active row as a view, or nil.
	ActiveBooking(ctx context.Context, externalID string) (*models.ActiveBooking, error)
	// ListBookings returns the full ledger, oldest first.
	ListBookings(ctx context.Context) ([]models.Booking, error)

	// GetClient returns nil when the identity is unknown.
	GetClient(ctx context.Context, externalID string) (*models.Client, error)
	// UpsertClient creates or updates name/phone/city/last_sync. The
	// variables column belongs to the messaging platform and is preserved.
	UpsertClient(ctx context.Context, c *models.Client) error

	Ping(ctx context.Context) error
}
