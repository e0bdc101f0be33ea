// Package service implements the slot/booking lifecycle: the rules by
// which a slot moves between free and booked, and how cancellation
// restores it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"okoshko/internal/events"
	"okoshko/internal/metrics"
	"okoshko/internal/models"
	"okoshko/internal/slots"
	"okoshko/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrValidation marks a request with a missing required field.
	ErrValidation = errors.New("missing required field")
	// ErrSlotTaken is returned when the requested slot is no longer in
	// the availability map at claim time.
	ErrSlotTaken = errors.New("slot no longer available")
)

// BookingService orchestrates the store, the event bus and the slot
// generator. The mutex serializes read-modify-write cycles on the
// availability map within this process; concurrent admin writers
// through saveSlots still race with last-writer-wins, which is the
// documented store semantics.
type BookingService struct {
	store  storage.Store
	bus    *events.Bus
	gen    *slots.Generator
	logger *zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

func New(store storage.Store, bus *events.Bus, gen *slots.Generator, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		store:  store,
		bus:    bus,
		gen:    gen,
		logger: logger,
		now:    time.Now,
	}
}

// CreateBookingRequest mirrors the createBooking form fields. CityKey
// and SlotISO are the additive fields that let the server claim the
// slot atomically with the ledger append.
type CreateBookingRequest struct {
	Type       models.SessionType
	City       string // display name
	Slot       string // display-formatted slot
	FullName   string
	Phone      string
	ExternalID string
	CityKey    string
	SlotISO    string
}

// GetSlots returns the whole availability map.
func (s *BookingService) GetSlots(ctx context.Context) (models.AvailabilityMap, error) {
	return s.store.LoadSlots(ctx)
}

// SaveSlots rewrites the availability map wholesale (admin flows).
func (s *BookingService) SaveSlots(ctx context.Context, m models.AvailabilityMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveSlots(ctx, m)
}

// GetUserData assembles the client profile and the active-booking view
// for an identity.
func (s *BookingService) GetUserData(ctx context.Context, externalID string) (*models.UserData, error) {
	client, err := s.store.GetClient(ctx, externalID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ActiveBooking(ctx, externalID)
	if err != nil {
		return nil, err
	}

	data := &models.UserData{Variables: map[string]any{}, ActiveBooking: active}
	if client != nil {
		data.Exists = true
		data.FullName = client.FullName
		data.Phone = client.Phone
		data.City = client.City
		if client.Variables != nil {
			data.Variables = client.Variables
		}
	}
	return data, nil
}

// CreateBooking appends an Active ledger row, upserts the client
// profile and publishes the created event. When SlotISO is supplied
// the slot is claimed first: a missing slot rejects the booking, which
// is the double-booking guard. Any older Active row for the identity
// is superseded so at most one stays Active.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) error {
	if req.FullName == "" || req.Phone == "" || req.ExternalID == "" || req.Slot == "" {
		return fmt.Errorf("create booking: %w", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.SlotISO != "" && req.CityKey != "" {
		m, err := s.store.LoadSlots(ctx)
		if err != nil {
			return fmt.Errorf("load slots: %w", err)
		}
		if !slots.Remove(m, req.CityKey, req.SlotISO) {
			return fmt.Errorf("claim %s at %s: %w", req.SlotISO, req.CityKey, ErrSlotTaken)
		}
		if err := s.store.SaveSlots(ctx, m); err != nil {
			return fmt.Errorf("save slots: %w", err)
		}
	}

	s.supersedeActive(ctx, req.ExternalID)

	booking := models.Booking{
		ID:         uuid.NewString(),
		CreatedAt:  s.now(),
		Type:       req.Type,
		City:       req.City,
		Slot:       req.Slot,
		FullName:   req.FullName,
		Phone:      req.Phone,
		ExternalID: req.ExternalID,
		Status:     models.StatusActive,
	}
	if err := s.store.AppendBooking(ctx, &booking); err != nil {
		return fmt.Errorf("append booking: %w", err)
	}

	client, err := s.store.GetClient(ctx, req.ExternalID)
	if err != nil {
		s.logger.Error().Err(err).Str("external_id", req.ExternalID).Msg("load client before upsert")
	}
	upsert := models.Client{
		ExternalID: req.ExternalID,
		FullName:   req.FullName,
		Phone:      req.Phone,
		City:       req.City,
		LastSync:   s.now(),
	}
	if err := s.store.UpsertClient(ctx, &upsert); err != nil {
		s.logger.Error().Err(err).Str("external_id", req.ExternalID).Msg("upsert client")
	}

	metrics.IncBookingCreated(string(req.Type))
	s.bus.Publish(events.Event{
		Type:    events.TypeBookingCreated,
		Booking: booking,
		Client:  client,
	})
	return nil
}

// supersedeActive flips every stale Active row for the identity,
// enforcing the at-most-one-Active invariant at write time.
func (s *BookingService) supersedeActive(ctx context.Context, externalID string) {
	for {
		flipped, err := s.store.CancelLatestActive(ctx, externalID)
		if err != nil {
			s.logger.Error().Err(err).Str("external_id", externalID).Msg("supersede active booking")
			return
		}
		if !flipped {
			return
		}
		s.logger.Info().Str("external_id", externalID).Msg("superseded stale active booking")
	}
}

// CancelBooking flips the newest Active row for the identity and, when
// the slot reference is supplied, restores the timestamp to the map.
// The two steps are not transactional (different tabs in the sheet
// backend); the restore is idempotent so a retry converges.
func (s *BookingService) CancelBooking(ctx context.Context, externalID, cityKey, slotISO string) error {
	if externalID == "" {
		return fmt.Errorf("cancel booking: %w", ErrValidation)
	}

	flipped, err := s.store.CancelLatestActive(ctx, externalID)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	if !flipped {
		s.logger.Warn().Str("external_id", externalID).Msg("cancel requested with no active booking")
	}

	if slotISO != "" && cityKey != "" {
		s.mu.Lock()
		m, err := s.store.LoadSlots(ctx)
		if err == nil && slots.Restore(m, cityKey, slotISO) {
			err = s.store.SaveSlots(ctx, m)
		}
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("restore slot: %w", err)
		}
	}

	metrics.IncBookingCancelled()
	s.bus.Publish(events.Event{
		Type:    events.TypeBookingCancelled,
		Booking: models.Booking{ExternalID: externalID, Status: models.StatusCancelled},
	})
	return nil
}

// GenerateSlots runs the admin generator and merges the result into
// the stored map. Returns the number of slots actually added.
func (s *BookingService) GenerateSlots(ctx context.Context, cfg slots.GenerateConfig) (int, error) {
	isos, err := s.gen.Generate(cfg)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.store.LoadSlots(ctx)
	if err != nil {
		return 0, fmt.Errorf("load slots: %w", err)
	}
	added := slots.Merge(m, cfg.Location, isos)
	if added == 0 {
		return 0, nil
	}
	if err := s.store.SaveSlots(ctx, m); err != nil {
		return 0, fmt.Errorf("save slots: %w", err)
	}
	metrics.AddSlotsGenerated(added)
	return added, nil
}

// RemoveSlot deletes a single slot by exact match (admin list mode).
func (s *BookingService) RemoveSlot(ctx context.Context, cityKey, iso string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.store.LoadSlots(ctx)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	if !slots.Remove(m, cityKey, iso) {
		return nil
	}
	return s.store.SaveSlots(ctx, m)
}

// PurgeExpired drops every slot in the past. Run from the cron
// schedule; returns the number of slots removed.
func (s *BookingService) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.store.LoadSlots(ctx)
	if err != nil {
		return 0, fmt.Errorf("load slots: %w", err)
	}

	removed := 0
	for key, list := range m {
		kept := list[:0]
		for _, iso := range list {
			t, err := models.ParseISO(iso)
			if err != nil || !t.Before(now) {
				kept = append(kept, iso)
				continue
			}
			removed++
		}
		m[key] = kept
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.store.SaveSlots(ctx, m); err != nil {
		return 0, fmt.Errorf("save slots: %w", err)
	}
	s.logger.Info().Int("removed", removed).Msg("purged expired slots")
	return removed, nil
}

// ListBookings exposes the ledger for admin exports.
func (s *BookingService) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return s.store.ListBookings(ctx)
}
