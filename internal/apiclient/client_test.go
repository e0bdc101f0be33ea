package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okoshko/internal/models"
)

func TestGetSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getSlots", r.URL.Query().Get("action"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"slots":{"Москва":["2024-06-01T10:00:00Z"]}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL).GetSlots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01T10:00:00Z"}, got["Москва"])
}

func TestGetSlotsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetSlots(context.Background())
	assert.Error(t, err)
}

func TestGetUserData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getUserData", r.URL.Query().Get("action"))
		assert.Equal(t, "42", r.URL.Query().Get("external_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exists":true,"full_name":"Иван","variables":{},"activeBooking":{"type":"Offline","city":"Москва","slot":"01.06.2024 10:00"}}`))
	}))
	defer srv.Close()

	data, err := New(srv.URL).GetUserData(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, data.Exists)
	require.NotNil(t, data.ActiveBooking)
	assert.Equal(t, "01.06.2024 10:00", data.ActiveBooking.Slot)
}

func TestCreateBookingFormFields(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL).CreateBooking(context.Background(), BookingRequest{
		Type:       models.TypeOffline,
		City:       "Москва",
		Slot:       "01.06.2024 10:00",
		FullName:   "Иван Иванов",
		Phone:      "+79991234567",
		ExternalID: "42",
		CityKey:    "Москва",
		SlotISO:    "2024-06-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "createBooking", form["action"][0])
	assert.Equal(t, "Offline", form["type"][0])
	assert.Equal(t, "2024-06-01T10:00:00Z", form["slot_iso"][0])
	assert.Equal(t, "Москва", form["city_key"][0])
}

func TestCreateBookingRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"error":"slot already booked"}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL).CreateBooking(context.Background(), BookingRequest{ExternalID: "42"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelBooking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cancelBooking", r.PostFormValue("action"))
		assert.Equal(t, "online", r.PostFormValue("city"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL).CancelBooking(context.Background(), "42", "online", "2024-06-01T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "saveSlots", r.PostFormValue("action"))
		assert.JSONEq(t, `{"Москва":["2024-06-01T10:00:00Z"]}`, r.PostFormValue("slots"))
		assert.Equal(t, "100", r.PostFormValue("external_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL).SaveSlots(context.Background(), models.AvailabilityMap{
		"Москва": {"2024-06-01T10:00:00Z"},
	}, "100")
	require.NoError(t, err)
	assert.True(t, ok)
}
