package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okoshko/internal/events"
	"okoshko/internal/models"
	"okoshko/internal/service"
	"okoshko/internal/slots"
	"okoshko/internal/storage"
)

func newTestServer(t *testing.T, opts Options) (*Server, *storage.InMemoryStore) {
	t.Helper()
	store := storage.NewInMemoryStore()
	logger := zerolog.Nop()
	svc := service.New(store, events.NewBus(), slots.NewGenerator(time.UTC), &logger)
	return NewServer(svc, opts, &logger), store
}

func seed(t *testing.T, store *storage.InMemoryStore, m models.AvailabilityMap) {
	t.Helper()
	require.NoError(t, store.SaveSlots(context.Background(), m))
}

func postForm(handler http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/exec", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetSlots(t *testing.T) {
	srv, store := newTestServer(t, Options{})
	seed(t, store, models.AvailabilityMap{"Москва": {"2024-06-01T10:00:00Z"}})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=getSlots", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Slots models.AvailabilityMap `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"2024-06-01T10:00:00Z"}, body.Slots["Москва"])
}

func TestGetUserData(t *testing.T) {
	srv, store := newTestServer(t, Options{})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=getUserData", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, store.UpsertClient(context.Background(), &models.Client{
		ExternalID: "42",
		FullName:   "Иван",
		Variables:  map[string]any{"source": "ads"},
	}))

	req = httptest.NewRequest(http.MethodGet, "/exec?action=getUserData&external_id=42", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var data models.UserData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.True(t, data.Exists)
	assert.Equal(t, "Иван", data.FullName)
	assert.Equal(t, "ads", data.Variables["source"])
	assert.Nil(t, data.ActiveBooking)
}

func bookingForm() url.Values {
	return url.Values{
		"action":      {"createBooking"},
		"type":        {"Offline"},
		"city":        {"Москва"},
		"slot":        {"01.06.2024 10:00"},
		"full_name":   {"Иван Иванов"},
		"phone":       {"+79991234567"},
		"external_id": {"42"},
		"city_key":    {"Москва"},
		"slot_iso":    {"2024-06-01T10:00:00Z"},
	}
}

func TestCreateBooking(t *testing.T) {
	srv, store := newTestServer(t, Options{})
	seed(t, store, models.AvailabilityMap{"Москва": {"2024-06-01T10:00:00Z"}})
	handler := srv.Router()

	rec := postForm(handler, bookingForm())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	m, _ := store.LoadSlots(context.Background())
	assert.Empty(t, m["Москва"])

	// The slot is gone now, so a second claim conflicts.
	rec = postForm(handler, bookingForm())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateBookingValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	handler := srv.Router()

	form := bookingForm()
	form.Set("phone", "")
	rec := postForm(handler, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestCreateBookingRequiresPost(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=createBooking", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCancelBooking(t *testing.T) {
	srv, store := newTestServer(t, Options{})
	seed(t, store, models.AvailabilityMap{"Москва": {"2024-06-01T10:00:00Z"}})
	handler := srv.Router()

	rec := postForm(handler, bookingForm())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postForm(handler, url.Values{
		"action":      {"cancelBooking"},
		"external_id": {"42"},
		"city":        {"Москва"},
		"slot_iso":    {"2024-06-01T10:00:00Z"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	m, _ := store.LoadSlots(context.Background())
	assert.Equal(t, []string{"2024-06-01T10:00:00Z"}, m["Москва"])

	active, err := store.ActiveBooking(context.Background(), "42")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSaveSlotsAdminGate(t *testing.T) {
	srv, store := newTestServer(t, Options{AdminIDs: map[string]struct{}{"100": {}}})
	handler := srv.Router()

	payload, _ := json.Marshal(models.AvailabilityMap{"Казань": {"2024-06-05T10:00:00Z"}})

	rec := postForm(handler, url.Values{
		"action":      {"saveSlots"},
		"external_id": {"42"},
		"slots":       {string(payload)},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postForm(handler, url.Values{
		"action":      {"saveSlots"},
		"external_id": {"100"},
		"slots":       {string(payload)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	m, _ := store.LoadSlots(context.Background())
	assert.Equal(t, []string{"2024-06-05T10:00:00Z"}, m["Казань"])
}

func TestSaveSlotsBadPayload(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	handler := srv.Router()

	rec := postForm(handler, url.Values{"action": {"saveSlots"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postForm(handler, url.Values{"action": {"saveSlots"}, "slots": {"{broken"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownAction(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/exec?action=doEverything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitRPS: 1, RateLimitBurst: 1})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	handler := srv.Router()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
