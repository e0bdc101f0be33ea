// Package api exposes the booking operations over HTTP: one endpoint
// multiplexed by the action parameter, matching the contract the
// WebApp front end already speaks.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"okoshko/internal/metrics"
	"okoshko/internal/models"
	"okoshko/internal/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	// AdminIDs gates saveSlots. Empty means the gate is open.
	AdminIDs map[string]struct{}
}

// Server handles the action-multiplexed booking API.
type Server struct {
	svc    *service.BookingService
	opts   Options
	logger *zerolog.Logger

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func NewServer(svc *service.BookingService, opts Options, logger *zerolog.Logger) *Server {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}
	return &Server{
		svc:      svc,
		opts:     opts,
		logger:   logger,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Router builds the handler chain: CORS for the WebApp origin, then
// rate limiting, then routing.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/exec", s.handleExec).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return cors(s.rateLimit(r))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.svc.GetSlots(r.Context()); err != nil {
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" && r.Method == http.MethodPost {
		action = r.FormValue("action")
	}
	metrics.IncHTTP(action)

	switch action {
	case "getSlots":
		s.handleGetSlots(w, r)
	case "getUserData":
		s.handleGetUserData(w, r)
	case "createBooking":
		s.handleCreateBooking(w, r)
	case "cancelBooking":
		s.handleCancelBooking(w, r)
	case "saveSlots":
		s.handleSaveSlots(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleGetSlots(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.GetSlots(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("getSlots")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": m})
}

func (s *Server) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	externalID := r.URL.Query().Get("external_id")
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}
	data, err := s.svc.GetUserData(r.Context(), externalID)
	if err != nil {
		s.logger.Error().Err(err).Str("external_id", externalID).Msg("getUserData")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	req := service.CreateBookingRequest{
		Type:       models.SessionType(r.FormValue("type")),
		City:       r.FormValue("city"),
		Slot:       r.FormValue("slot"),
		FullName:   r.FormValue("full_name"),
		Phone:      r.FormValue("phone"),
		ExternalID: r.FormValue("external_id"),
		CityKey:    r.FormValue("city_key"),
		SlotISO:    r.FormValue("slot_iso"),
	}

	err := s.svc.CreateBooking(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	case errors.Is(err, service.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "slot already booked"})
	case err != nil:
		s.logger.Error().Err(err).Str("external_id", req.ExternalID).Msg("createBooking")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	externalID := r.FormValue("external_id")
	err := s.svc.CancelBooking(r.Context(), externalID, r.FormValue("city"), r.FormValue("slot_iso"))
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Str("external_id", externalID).Msg("cancelBooking")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (s *Server) handleSaveSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	if len(s.opts.AdminIDs) > 0 {
		if _, ok := s.opts.AdminIDs[r.FormValue("external_id")]; !ok {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "not authorized"})
			return
		}
	}

	raw := r.FormValue("slots")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "slots is required"})
		return
	}
	var m models.AvailabilityMap
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "slots is not valid JSON"})
		return
	}

	if err := s.svc.SaveSlots(r.Context(), m); err != nil {
		s.logger.Error().Err(err).Msg("saveSlots")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiterFor(host).Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.visitors[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.opts.RateLimitRPS), s.opts.RateLimitBurst)
		s.visitors[host] = l
	}
	return l
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
