package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"okoshko/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore routes operations to a primary store (the spreadsheet
// backend) and falls back to a local store while the primary is
// unreachable. After recoveryInterval a single request probes the
// primary again.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

// NewFailoverStore wires the two stores together.
func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

// usePrimary reports whether this call should go to the primary,
// marking the recovery probe time when the primary is down.
func (f *FailoverStore) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) < recoveryInterval {
		return false
	}
	f.lastCheck = time.Now()
	return true
}

func (f *FailoverStore) markDown(op string, err error) {
	if f.isDown.CompareAndSwap(false, true) {
		f.logger.Warn().Err(err).Str("op", op).Msg("primary store down, switching to fallback")
	}
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}

func (f *FailoverStore) markUp() {
	if f.isDown.CompareAndSwap(true, false) {
		f.logger.Info().Msg("primary store recovered")
	}
}

func do[T any](f *FailoverStore, op string, fn func(Store) (T, error)) (T, error) {
	if f.usePrimary() {
		v, err := fn(f.primary)
		if err == nil {
			f.markUp()
			return v, nil
		}
		f.markDown(op, err)
	}
	return fn(f.fallback)
}

func (f *FailoverStore) LoadSlots(ctx context.Context) (models.AvailabilityMap, error) {
	return do(f, "load_slots", func(s Store) (models.AvailabilityMap, error) { return s.LoadSlots(ctx) })
}

func (f *FailoverStore) SaveSlots(ctx context.Context, m models.AvailabilityMap) error {
	_, err := do(f, "save_slots", func(s Store) (struct{}, error) { return struct{}{}, s.SaveSlots(ctx, m) })
	return err
}

func (f *FailoverStore) AppendBooking(ctx context.Context, b *models.Booking) error {
	_, err := do(f, "append_booking", func(s Store) (struct{}, error) { return struct{}{}, s.AppendBooking(ctx, b) })
	return err
}

func (f *FailoverStore) CancelLatestActive(ctx context.Context, externalID string) (bool, error) {
	return do(f, "cancel_latest_active", func(s Store) (bool, error) { return s.CancelLatestActive(ctx, externalID) })
}

func (f *FailoverStore) ActiveBooking(ctx context.Context, externalID string) (*models.ActiveBooking, error) {
	return do(f, "active_booking", func(s Store) (*models.ActiveBooking, error) { return s.ActiveBooking(ctx, externalID) })
}

func (f *FailoverStore) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return do(f, "list_bookings", func(s Store) ([]models.Booking, error) { return s.ListBookings(ctx) })
}

func (f *FailoverStore) GetClient(ctx context.Context, externalID string) (*models.Client, error) {
	return do(f, "get_client", func(s Store) (*models.Client, error) { return s.GetClient(ctx, externalID) })
}

func (f *FailoverStore) UpsertClient(ctx context.Context, c *models.Client) error {
	_, err := do(f, "upsert_client", func(s Store) (struct{}, error) { return struct{}{}, s.UpsertClient(ctx, c) })
	return err
}

func (f *FailoverStore) Ping(ctx context.Context) error {
	_, err := do(f, "ping", func(s Store) (struct{}, error) { return struct{}{}, s.Ping(ctx) })
	return err
}
