// Package slots implements the availability map operations and the
// admin slot generator.
package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"okoshko/internal/models"
)

// ErrInvalidInterval is returned for a non-positive step; the loop
// below would otherwise never terminate.
var ErrInvalidInterval = errors.New("slot interval must be positive")

// GenerateConfig describes one generation request.
type GenerateConfig struct {
	Location  string
	Start     time.Time // first calendar date, inclusive; time of day ignored
	End       time.Time // last calendar date, inclusive
	StartTime string    // "HH:MM", first slot of each day
	EndTime   string    // "HH:MM", boundary slot included
	Interval  int       // minutes; 30/60/90/120 offered, any positive accepted
}

// Generator produces candidate slot timestamps. All instants are built
// in the configured location.
type Generator struct {
	loc *time.Location
}

// NewGenerator creates a generator; nil falls back to time.Local.
func NewGenerator(loc *time.Location) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{loc: loc}
}

// Generate emits slots chronologically within each day and across
// days. An inverted time window yields zero slots for the day; an
// inverted date range yields nothing at all.
func (g *Generator) Generate(cfg GenerateConfig) ([]string, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval %d: %w", cfg.Interval, ErrInvalidInterval)
	}

	startClock, err := parseClock(cfg.StartTime)
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	endClock, err := parseClock(cfg.EndTime)
	if err != nil {
		return nil, fmt.Errorf("end time: %w", err)
	}

	step := time.Duration(cfg.Interval) * time.Minute
	first := dateOnly(cfg.Start, g.loc)
	last := dateOnly(cfg.End, g.loc)

	var out []string
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		cursor := day.Add(startClock)
		limit := day.Add(endClock)
		for !cursor.After(limit) {
			out = append(out, models.FormatISO(cursor))
			cursor = cursor.Add(step)
		}
	}
	return out, nil
}

// Merge appends the generated timestamps to the location's list,
// skipping exact ISO-string duplicates. Returns how many were added,
// which makes re-generation over an overlapping range idempotent.
func Merge(m models.AvailabilityMap, key string, isos []string) int {
	added := 0
	for _, iso := range isos {
		if Restore(m, key, iso) {
			added++
		}
	}
	return added
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid time format: %s", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute: %w", err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time out of range: %s", s)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

func dateOnly(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
