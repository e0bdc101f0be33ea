package storage

import (
	"context"
	"sync"
	"time"

	"okoshko/internal/models"
)

// InMemoryStore keeps all three tables in process memory. Used in
// tests and for local development without credentials.
type InMemoryStore struct {
	mu       sync.Mutex
	slots    models.AvailabilityMap
	bookings []models.Booking
	clients  map[string]*models.Client
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		slots:   models.AvailabilityMap{},
		clients: make(map[string]*models.Client),
	}
}

func (s *InMemoryStore) LoadSlots(_ context.Context) (models.AvailabilityMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots.Clone(), nil
}

func (s *InMemoryStore) SaveSlots(_ context.Context, m models.AvailabilityMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = m.Clone()
	return nil
}

func (s *InMemoryStore) AppendBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, *b)
	return nil
}

func (s *InMemoryStore) CancelLatestActive(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.bookings) - 1; i >= 0; i-- {
		if s.bookings[i].ExternalID == externalID && s.bookings[i].Status == models.StatusActive {
			s.bookings[i].Status = models.StatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ActiveBooking(_ context.Context, externalID string) (*models.ActiveBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.bookings) - 1; i >= 0; i-- {
		b := s.bookings[i]
		if b.ExternalID == externalID && b.Status == models.StatusActive {
			return &models.ActiveBooking{Type: string(b.Type), City: b.City, Slot: b.Slot}, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListBookings(_ context.Context) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Booking(nil), s.bookings...), nil
}

func (s *InMemoryStore) GetClient(_ context.Context, externalID string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[externalID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) UpsertClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.clients[c.ExternalID]
	cp := *c
	if cp.LastSync.IsZero() {
		cp.LastSync = time.Now()
	}
	if ok && cp.Variables == nil {
		cp.Variables = existing.Variables
	}
	s.clients[c.ExternalID] = &cp
	return nil
}

func (s *InMemoryStore) Ping(_ context.Context) error { return nil }
