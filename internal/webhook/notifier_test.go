package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okoshko/internal/events"
	"okoshko/internal/models"
)

func TestNotifyPostsPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	n := NewNotifier(srv.URL, &logger)

	err := n.Notify(context.Background(), Payload{
		ClientID:      "42",
		Message:       MessageBooking,
		Name:          "Иван Иванов",
		Phone:         "+79991234567",
		City:          "Москва",
		BookingSlot:   "01.06.2024 10:00",
		BookingStatus: "Created",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", got.ClientID)
	assert.Equal(t, MessageBooking, got.Message)
	assert.Equal(t, "01.06.2024 10:00", got.BookingSlot)
}

func TestNotifyNoURLIsNoop(t *testing.T) {
	logger := zerolog.Nop()
	n := NewNotifier("", &logger)
	assert.NoError(t, n.Notify(context.Background(), Payload{ClientID: "42"}))
}

func TestNotifyReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	n := NewNotifier(srv.URL, &logger)
	assert.Error(t, n.Notify(context.Background(), Payload{ClientID: "42"}))
}

func TestSubscribeBuildsCreatedPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	bus := events.NewBus()
	NewNotifier(srv.URL, &logger).Subscribe(bus)

	bus.Publish(events.Event{
		Type: events.TypeBookingCreated,
		Booking: models.Booking{
			ExternalID: "42",
			FullName:   "Иван Иванов",
			Phone:      "+79991234567",
			City:       "Москва",
			Slot:       "01.06.2024 10:00",
		},
		Client: &models.Client{Variables: map[string]any{"source": "ads"}},
	})

	assert.Equal(t, MessageBooking, got.Message)
	assert.Equal(t, "Created", got.BookingStatus)
	assert.Equal(t, "ads", got.ClientVariables["source"])
}

func TestSubscribeBuildsCancelledPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	bus := events.NewBus()
	NewNotifier(srv.URL, &logger).Subscribe(bus)

	bus.Publish(events.Event{
		Type:    events.TypeBookingCancelled,
		Booking: models.Booking{ExternalID: "42", Status: models.StatusCancelled},
	})

	assert.Equal(t, MessageCancel, got.Message)
	assert.Equal(t, "Cancelled", got.BookingStatus)
	assert.Empty(t, got.ClientVariables)
}

func TestDeliverySwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	bus := events.NewBus()
	NewNotifier(srv.URL, &logger).Subscribe(bus)

	// Publish must not panic or propagate the delivery error.
	bus.Publish(events.Event{
		Type:    events.TypeBookingCreated,
		Booking: models.Booking{ExternalID: "42"},
	})
}
