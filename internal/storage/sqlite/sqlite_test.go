package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okoshko/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBooking(externalID string, createdAt time.Time) *models.Booking {
	return &models.Booking{
		ID:         uuid.NewString(),
		CreatedAt:  createdAt,
		Type:       models.TypeOffline,
		City:       "Москва",
		Slot:       "01.06.2024 10:00",
		FullName:   "Иван Иванов",
		Phone:      "+79991234567",
		ExternalID: externalID,
		Status:     models.StatusActive,
	}
}

func TestSlotsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.LoadSlots(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	want := models.AvailabilityMap{
		"Москва":         {"2024-06-01T10:00:00Z"},
		models.OnlineKey: {"2024-06-03T09:00:00Z"},
	}
	require.NoError(t, s.SaveSlots(ctx, want))

	got, err := s.LoadSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Second save overwrites the single row.
	require.NoError(t, s.SaveSlots(ctx, models.AvailabilityMap{}))
	got, err = s.LoadSlots(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBookingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendBooking(ctx, newBooking("42", base)))

	second := newBooking("42", base.Add(time.Hour))
	second.Slot = "02.06.2024 10:00"
	require.NoError(t, s.AppendBooking(ctx, second))

	// The newest Active row wins.
	active, err := s.ActiveBooking(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "02.06.2024 10:00", active.Slot)

	flipped, err := s.CancelLatestActive(ctx, "42")
	require.NoError(t, err)
	assert.True(t, flipped)

	active, err = s.ActiveBooking(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "01.06.2024 10:00", active.Slot, "older row is still active")

	flipped, err = s.CancelLatestActive(ctx, "42")
	require.NoError(t, err)
	assert.True(t, flipped)

	active, err = s.ActiveBooking(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, active)

	flipped, err = s.CancelLatestActive(ctx, "42")
	require.NoError(t, err)
	assert.False(t, flipped, "nothing left to cancel")

	bookings, err := s.ListBookings(ctx)
	require.NoError(t, err)
	require.Len(t, bookings, 2, "the ledger keeps every row")
	for _, b := range bookings {
		assert.Equal(t, models.StatusCancelled, b.Status)
	}
}

func TestCancelLatestActiveOtherIdentityUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendBooking(ctx, newBooking("42", base)))
	require.NoError(t, s.AppendBooking(ctx, newBooking("7", base)))

	flipped, err := s.CancelLatestActive(ctx, "42")
	require.NoError(t, err)
	assert.True(t, flipped)

	active, err := s.ActiveBooking(ctx, "7")
	require.NoError(t, err)
	assert.NotNil(t, active)
}

func TestUpsertClientPreservesVariables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertClient(ctx, &models.Client{
		ExternalID: "42",
		FullName:   "Иван Иванов",
		Phone:      "+79991234567",
		City:       "Москва",
		Variables:  map[string]any{"source": "ads"},
	}))

	require.NoError(t, s.UpsertClient(ctx, &models.Client{
		ExternalID: "42",
		FullName:   "Иван Петров",
		Phone:      "+79997654321",
		City:       "Казань",
	}))

	c, err := s.GetClient(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Иван Петров", c.FullName)
	assert.Equal(t, "Казань", c.City)
	assert.Equal(t, "ads", c.Variables["source"], "platform-owned variables survive the update")
	assert.False(t, c.LastSync.IsZero())
}

func TestGetClientUnknown(t *testing.T) {
	s := newTestStore(t)

	c, err := s.GetClient(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, c)
}
