package coordinator

import (
	"context"
	"fmt"
	"time"

	"okoshko/internal/models"
	"okoshko/internal/slots"
)

// AdminConfig is the "create" tab of the admin screen: session type,
// city, date range, daily time window and interval.
type AdminConfig struct {
	Type      models.SessionType
	City      string
	Start     time.Time
	End       time.Time
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
	Interval  int    // minutes
}

// GenerateSlots produces the batch for the configured range, merges it
// into the map and persists the result wholesale.
func (c *Coordinator) GenerateSlots(ctx context.Context, cfg AdminConfig) (int, error) {
	c.mu.Lock()
	if c.screen != ScreenAdmin {
		c.mu.Unlock()
		return 0, fmt.Errorf("generate slots on %s: %w", c.screen, ErrNotAllowed)
	}
	key := cfg.City
	if cfg.Type == models.TypeOnline {
		key = models.OnlineKey
	}
	if key == "" {
		c.mu.Unlock()
		return 0, fmt.Errorf("generate slots: %w", ErrIncomplete)
	}

	gen := slots.NewGenerator(c.loc)
	isos, err := gen.Generate(slots.GenerateConfig{
		Location:  key,
		Start:     cfg.Start,
		End:       cfg.End,
		StartTime: cfg.StartTime,
		EndTime:   cfg.EndTime,
		Interval:  cfg.Interval,
	})
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	m := c.slots.Clone()
	added := slots.Merge(m, key, isos)
	c.mu.Unlock()

	if added == 0 {
		return 0, nil
	}
	ok, err := c.api.SaveSlots(ctx, m, c.externalID)
	if err != nil {
		c.alert("Не удалось сохранить слоты.")
		return 0, fmt.Errorf("save slots: %w", err)
	}
	if !ok {
		c.alert("Не удалось сохранить слоты.")
		return 0, fmt.Errorf("save slots: %w", ErrRejected)
	}

	c.mu.Lock()
	c.slots = m
	c.mu.Unlock()
	return added, nil
}

// RemoveSlot deletes one slot by exact match from the "list" tab and
// persists immediately.
func (c *Coordinator) RemoveSlot(ctx context.Context, key, iso string) error {
	c.mu.Lock()
	if c.screen != ScreenAdmin {
		c.mu.Unlock()
		return fmt.Errorf("remove slot on %s: %w", c.screen, ErrNotAllowed)
	}
	m := c.slots.Clone()
	if !slots.Remove(m, key, iso) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ok, err := c.api.SaveSlots(ctx, m, c.externalID)
	if err != nil {
		return fmt.Errorf("save slots: %w", err)
	}
	if !ok {
		return fmt.Errorf("save slots: %w", ErrRejected)
	}

	c.mu.Lock()
	c.slots = m
	c.mu.Unlock()
	return nil
}

// ListSlots enumerates every location's slots sorted for the admin
// list tab.
func (c *Coordinator) ListSlots() []slots.LocationSlots {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slots.Sorted(c.slots)
}
