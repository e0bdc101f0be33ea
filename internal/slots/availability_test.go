package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"okoshko/internal/models"
)

func sampleMap() models.AvailabilityMap {
	return models.AvailabilityMap{
		"Москва":          {"2024-06-02T10:00:00Z", "2024-06-01T10:00:00Z", "2024-06-01T12:00:00Z"},
		"Санкт-Петербург": {"2024-06-03T15:00:00Z"},
		models.OnlineKey:  {"2024-06-01T09:00:00Z"},
	}
}

func TestFindCaseInsensitive(t *testing.T) {
	m := sampleMap()

	for _, q := range []string{"Москва", "москва", "МОСКВА", "  москва  "} {
		key, ok := Find(m, q)
		assert.True(t, ok, "query %q", q)
		assert.Equal(t, "Москва", key)
	}

	_, ok := Find(m, "Казань")
	assert.False(t, ok)
}

func TestFindNeverMatchesOnline(t *testing.T) {
	m := sampleMap()

	_, ok := Find(m, "online")
	assert.False(t, ok)
	_, ok = Find(m, "Online")
	assert.False(t, ok)
	_, ok = Find(m, "")
	assert.False(t, ok)
}

func TestRemoveAndRestore(t *testing.T) {
	m := sampleMap()
	iso := "2024-06-01T10:00:00Z"

	assert.True(t, Remove(m, "Москва", iso))
	assert.False(t, Has(m, "Москва", iso))
	assert.Len(t, m["Москва"], 2)

	assert.False(t, Remove(m, "Москва", iso))
	assert.False(t, Remove(m, "Казань", iso))

	assert.True(t, Restore(m, "Москва", iso))
	assert.True(t, Has(m, "Москва", iso))
	assert.False(t, Restore(m, "Москва", iso), "restore is idempotent")
	assert.Len(t, m["Москва"], 3)
}

func TestRestoreUnknownKey(t *testing.T) {
	m := models.AvailabilityMap{}

	assert.True(t, Restore(m, "Казань", "2024-06-01T10:00:00Z"))
	assert.Equal(t, []string{"2024-06-01T10:00:00Z"}, m["Казань"])
}

func TestForDateSorted(t *testing.T) {
	m := sampleMap()

	got := ForDate(m, "Москва", "2024-06-01")
	assert.Equal(t, []string{"2024-06-01T10:00:00Z", "2024-06-01T12:00:00Z"}, got)

	assert.Empty(t, ForDate(m, "Москва", "2024-07-01"))
}

func TestDates(t *testing.T) {
	m := sampleMap()

	got := Dates(m, "Москва")
	assert.Equal(t, map[string]bool{"2024-06-01": true, "2024-06-02": true}, got)
}

func TestSorted(t *testing.T) {
	m := sampleMap()
	m["Пермь"] = nil

	got := Sorted(m)
	keys := make([]string, 0, len(got))
	for _, ls := range got {
		keys = append(keys, ls.Key)
	}
	assert.Equal(t, []string{models.OnlineKey, "Москва", "Санкт-Петербург"}, keys)
	assert.Equal(t, []string{"2024-06-01T10:00:00Z", "2024-06-01T12:00:00Z", "2024-06-02T10:00:00Z"}, got[1].Slots)
}
