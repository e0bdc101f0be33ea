// Package sheets persists the booking tables in a Google spreadsheet:
// the availability map as a single JSON blob in the slots tab, plus
// one row per ledger record and client profile.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"okoshko/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

const (
	slotsTab    = "Слоты"
	bookingsTab = "Записи"
	clientsTab  = "Клиенты"

	createdAtLayout = "2006-01-02 15:04:05"
)

// Service implements storage.Store over the Sheets API.
type Service struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        *zerolog.Logger

	mu sync.Mutex
	// rowCache maps external_id to its 1-based row in the clients tab.
	rowCache map[string]int
}

// New builds a Sheets-backed store authenticated with a service
// account key file.
func New(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*Service, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	jwt, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &Service{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		rowCache:      make(map[string]int),
	}, nil
}

func (s *Service) LoadSlots(ctx context.Context) (models.AvailabilityMap, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, slotsTab+"!A1").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read slots blob: %w", err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return models.AvailabilityMap{}, nil
	}
	raw, _ := resp.Values[0][0].(string)
	if raw == "" {
		return models.AvailabilityMap{}, nil
	}
	var wrap struct {
		Slots models.AvailabilityMap `json:"slots"`
	}
	if err := json.Unmarshal([]byte(raw), &wrap); err != nil {
		// A corrupt blob reads as an empty map.
		s.logger.Warn().Err(err).Msg("slots blob is not valid JSON")
		return models.AvailabilityMap{}, nil
	}
	if wrap.Slots == nil {
		wrap.Slots = models.AvailabilityMap{}
	}
	return wrap.Slots, nil
}

func (s *Service) SaveSlots(ctx context.Context, m models.AvailabilityMap) error {
	data, err := json.Marshal(struct {
		Slots models.AvailabilityMap `json:"slots"`
	}{Slots: m})
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{{string(data)}}}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, slotsTab+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write slots blob: %w", err)
	}
	return nil
}

func (s *Service) AppendBooking(ctx context.Context, b *models.Booking) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{bookingRowValues(b)}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, bookingsTab+"!A:H", vr).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append booking row: %w", err)
	}
	return nil
}

func (s *Service) CancelLatestActive(ctx context.Context, externalID string) (bool, error) {
	rows, err := s.bookingRows(ctx)
	if err != nil {
		return false, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rowExternalID(rows[i]) == externalID && rowStatus(rows[i]) == string(models.StatusActive) {
			// Header is row 1, data starts at row 2.
			cell := fmt.Sprintf("%s!H%d", bookingsTab, i+2)
			vr := &sheets.ValueRange{Values: [][]interface{}{{string(models.StatusCancelled)}}}
			_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, cell, vr).
				ValueInputOption("RAW").Context(ctx).Do()
			if err != nil {
				return false, fmt.Errorf("flip booking status: %w", err)
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) ActiveBooking(ctx context.Context, externalID string) (*models.ActiveBooking, error) {
	rows, err := s.bookingRows(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rowExternalID(rows[i]) == externalID && rowStatus(rows[i]) == string(models.StatusActive) {
			b := parseBookingRow(rows[i])
			return &models.ActiveBooking{Type: string(b.Type), City: b.City, Slot: b.Slot}, nil
		}
	}
	return nil, nil
}

func (s *Service) ListBookings(ctx context.Context) ([]models.Booking, error) {
	rows, err := s.bookingRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Booking, 0, len(rows))
	for _, row := range rows {
		out = append(out, parseBookingRow(row))
	}
	return out, nil
}

func (s *Service) GetClient(ctx context.Context, externalID string) (*models.Client, error) {
	rows, err := s.clientRows(ctx)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if cellString(row, 0) == externalID {
			s.setCachedRow(externalID, i+2)
			return parseClientRow(row), nil
		}
	}
	return nil, nil
}

func (s *Service) UpsertClient(ctx context.Context, c *models.Client) error {
	row, ok := s.getCachedRow(c.ExternalID)
	if !ok {
		rows, err := s.clientRows(ctx)
		if err != nil {
			return err
		}
		for i, r := range rows {
			if cellString(r, 0) == c.ExternalID {
				row = i + 2
				s.setCachedRow(c.ExternalID, row)
				ok = true
				break
			}
		}
	}

	lastSync := c.LastSync
	if lastSync.IsZero() {
		lastSync = time.Now()
	}

	if ok {
		// Update contact columns and the sync stamp; column F (variables)
		// belongs to the messaging platform and is left untouched.
		rng := fmt.Sprintf("%s!B%d:E%d", clientsTab, row, row)
		vr := &sheets.ValueRange{Values: [][]interface{}{{
			c.FullName, "'" + c.Phone, c.City, lastSync.Format(createdAtLayout),
		}}}
		_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			s.deleteCachedRow(c.ExternalID)
			return fmt.Errorf("update client row: %w", err)
		}
		return nil
	}

	vars := "{}"
	if len(c.Variables) > 0 {
		if data, err := json.Marshal(c.Variables); err == nil {
			vars = string(data)
		}
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{{
		c.ExternalID, c.FullName, "'" + c.Phone, c.City, lastSync.Format(createdAtLayout), vars,
	}}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, clientsTab+"!A:F", vr).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append client row: %w", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	_, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	return err
}

func (s *Service) bookingRows(ctx context.Context) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, bookingsTab+"!A2:H").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read bookings: %w", err)
	}
	return resp.Values, nil
}

func (s *Service) clientRows(ctx context.Context) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, clientsTab+"!A2:F").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read clients: %w", err)
	}
	return resp.Values, nil
}

func (s *Service) getCachedRow(externalID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rowCache[externalID]
	return row, ok
}

func (s *Service) setCachedRow(externalID string, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache[externalID] = row
}

func (s *Service) deleteCachedRow(externalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rowCache, externalID)
}

// ClearCache drops the clients row cache, forcing a rescan.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache = make(map[string]int)
}

// bookingRowValues flattens a ledger record into sheet column order:
// timestamp, type, city, slot, full_name, phone, external_id, status.
// The phone gets a leading apostrophe so the sheet keeps it as text.
func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.CreatedAt.Format(createdAtLayout),
		string(b.Type),
		b.City,
		b.Slot,
		b.FullName,
		"'" + b.Phone,
		b.ExternalID,
		string(b.Status),
	}
}

func parseBookingRow(row []interface{}) models.Booking {
	b := models.Booking{
		Type:       models.SessionType(cellString(row, 1)),
		City:       cellString(row, 2),
		Slot:       cellString(row, 3),
		FullName:   cellString(row, 4),
		Phone:      strings.TrimPrefix(cellString(row, 5), "'"),
		ExternalID: cellString(row, 6),
		Status:     models.BookingStatus(cellString(row, 7)),
	}
	if t, err := time.Parse(createdAtLayout, cellString(row, 0)); err == nil {
		b.CreatedAt = t
	}
	return b
}

func parseClientRow(row []interface{}) *models.Client {
	c := &models.Client{
		ExternalID: cellString(row, 0),
		FullName:   cellString(row, 1),
		Phone:      strings.TrimPrefix(cellString(row, 2), "'"),
		City:       cellString(row, 3),
		Variables:  map[string]any{},
	}
	if t, err := time.Parse(createdAtLayout, cellString(row, 4)); err == nil {
		c.LastSync = t
	}
	if raw := cellString(row, 5); raw != "" {
		_ = json.Unmarshal([]byte(raw), &c.Variables)
	}
	return c
}

func rowExternalID(row []interface{}) string { return cellString(row, 6) }
func rowStatus(row []interface{}) string     { return cellString(row, 7) }

func cellString(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}
