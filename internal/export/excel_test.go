package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"okoshko/internal/models"
)

func TestBookingsXLSX(t *testing.T) {
	bookings := []models.Booking{
		{
			CreatedAt:  time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
			Type:       models.TypeOffline,
			City:       "Москва",
			Slot:       "01.06.2024 10:00",
			FullName:   "Иван Иванов",
			Phone:      "+79991234567",
			ExternalID: "42",
			Status:     models.StatusActive,
		},
		{
			CreatedAt:  time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC),
			Type:       models.TypeOnline,
			City:       models.OnlineCity,
			Slot:       "03.06.2024 09:00",
			FullName:   "Анна",
			Phone:      "+79990000000",
			ExternalID: "7",
			Status:     models.StatusCancelled,
		},
	}

	data, err := BookingsXLSX(bookings)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Записи")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Дата создания", rows[0][0])
	assert.Equal(t, "Статус", rows[0][7])
	assert.Equal(t, "Иван Иванов", rows[1][4])
	assert.Equal(t, "Cancelled", rows[2][7])
}

func TestBookingsXLSXEmpty(t *testing.T) {
	data, err := BookingsXLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Записи")
	require.NoError(t, err)
	require.Len(t, rows, 1, "header only")
}
