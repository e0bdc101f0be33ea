// Package export renders the booking ledger as an xlsx workbook for
// admin reporting.
package export

import (
	"fmt"

	"okoshko/internal/models"

	"github.com/xuri/excelize/v2"
)

var headerColumns = []string{
	"Дата создания", "Тип", "Город", "Слот", "ФИО", "Телефон", "ID клиента", "Статус",
}

const sheetName = "Записи"

// BookingsXLSX builds a workbook with one row per ledger record.
func BookingsXLSX(bookings []models.Booking) ([]byte, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheetName)

	if err := writeHeader(f); err != nil {
		return nil, err
	}

	for i, b := range bookings {
		row := i + 2
		values := []interface{}{
			b.CreatedAt.Format("2006-01-02 15:04:05"),
			string(b.Type),
			b.City,
			b.Slot,
			b.FullName,
			b.Phone,
			b.ExternalID,
			string(b.Status),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File) error {
	for i, col := range headerColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(headerColumns), 1)
		_ = f.SetCellStyle(sheetName, "A1", endCell, style)
	}
	return nil
}
