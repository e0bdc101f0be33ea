package slots

import (
	"sort"
	"strings"

	"okoshko/internal/models"
)

// Find looks up a city key in the availability map ignoring case. The
// online key never matches a city search. The stored (case-preserving)
// key is returned.
func Find(m models.AvailabilityMap, city string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(city))
	if needle == "" || needle == models.OnlineKey {
		return "", false
	}
	for k := range m {
		if k != models.OnlineKey && strings.ToLower(k) == needle {
			return k, true
		}
	}
	return "", false
}

// Has reports whether the exact ISO timestamp is present for the key.
func Has(m models.AvailabilityMap, key, iso string) bool {
	for _, s := range m[key] {
		if s == iso {
			return true
		}
	}
	return false
}

// Remove deletes the exact ISO timestamp from the location's list.
// Returns false if it was not present.
func Remove(m models.AvailabilityMap, key, iso string) bool {
	list, ok := m[key]
	if !ok {
		return false
	}
	for i, s := range list {
		if s == iso {
			m[key] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Restore re-inserts the ISO timestamp for the location if absent.
// Returns true if the map changed. Idempotent, so a retried
// cancellation converges.
func Restore(m models.AvailabilityMap, key, iso string) bool {
	if Has(m, key, iso) {
		return false
	}
	m[key] = append(m[key], iso)
	return true
}

// ForDate returns the location's slots whose calendar date matches the
// given day, sorted ascending. The store does not keep lists sorted,
// so display logic sorts on read.
func ForDate(m models.AvailabilityMap, key string, day string) []string {
	var out []string
	for _, s := range m[key] {
		t, err := models.ParseISO(s)
		if err != nil {
			continue
		}
		if t.Format("2006-01-02") == day {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Dates returns the set of calendar dates (YYYY-MM-DD) with at least
// one slot for the location.
func Dates(m models.AvailabilityMap, key string) map[string]bool {
	out := make(map[string]bool)
	for _, s := range m[key] {
		t, err := models.ParseISO(s)
		if err != nil {
			continue
		}
		out[t.Format("2006-01-02")] = true
	}
	return out
}

// LocationSlots is a sorted view of one location for admin listings.
type LocationSlots struct {
	Key   string
	Slots []string
}

// Sorted enumerates every non-empty location with its slots sorted,
// locations ordered by key.
func Sorted(m models.AvailabilityMap) []LocationSlots {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]LocationSlots, 0, len(keys))
	for _, k := range keys {
		list := append([]string(nil), m[k]...)
		sort.Strings(list)
		out = append(out, LocationSlots{Key: k, Slots: list})
	}
	return out
}
