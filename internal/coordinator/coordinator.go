// Package coordinator drives the WebApp screen flow: it loads
// availability and profile data, validates and submits bookings, and
// reconciles local state after server responses. Rendering stays with
// the host; the coordinator only owns state and transitions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"okoshko/internal/apiclient"
	"okoshko/internal/models"
	"okoshko/internal/slots"

	"github.com/rs/zerolog"
)

// Screen identifies one UI screen.
type Screen string

const (
	ScreenCitySelect  Screen = "city_select"
	ScreenCityResult  Screen = "city_result"
	ScreenCalendar    Screen = "calendar"
	ScreenBookingForm Screen = "booking_form"
	ScreenSuccess     Screen = "success"
	ScreenMyBooking   Screen = "my_booking"
	ScreenAdmin       Screen = "admin"
)

// transitions lists the allowed screen changes.
var transitions = map[Screen][]Screen{
	ScreenCitySelect:  {ScreenCityResult, ScreenAdmin, ScreenMyBooking},
	ScreenCityResult:  {ScreenCalendar, ScreenCitySelect},
	ScreenCalendar:    {ScreenBookingForm, ScreenCityResult, ScreenCitySelect},
	ScreenBookingForm: {ScreenSuccess, ScreenCalendar},
	ScreenSuccess:     {ScreenCitySelect},
	ScreenMyBooking:   {ScreenCalendar, ScreenCitySelect},
	ScreenAdmin:       {ScreenCitySelect},
}

// CanTransition checks if a screen change is allowed.
func CanTransition(from, to Screen) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrIncomplete marks a submit attempt with a missing field; no
	// network call is made.
	ErrIncomplete = errors.New("booking form incomplete")
	// ErrNotAllowed marks an action that is invalid on the current screen.
	ErrNotAllowed = errors.New("action not allowed here")
	// ErrRejected marks a server-side rejection of the operation.
	ErrRejected = errors.New("operation rejected by server")
)

// API is the slice of the booking client the coordinator needs.
// *apiclient.Client satisfies it.
type API interface {
	GetSlots(ctx context.Context) (models.AvailabilityMap, error)
	GetUserData(ctx context.Context, externalID string) (*models.UserData, error)
	CreateBooking(ctx context.Context, req apiclient.BookingRequest) (bool, error)
	CancelBooking(ctx context.Context, externalID, cityKey, slotISO string) (bool, error)
	SaveSlots(ctx context.Context, m models.AvailabilityMap, externalID string) (bool, error)
}

// Alerter shows a blocking alert to the user (host platform native).
type Alerter func(msg string)

// Confirmer asks a yes/no question and reports the answer.
type Confirmer func(msg string) bool

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAdminAccess enables the admin screen for the given sentinel
// keyword, restricted to the allowlisted identities.
func WithAdminAccess(keyword string, ids []string) Option {
	return func(c *Coordinator) {
		c.adminKeyword = keyword
		c.adminIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			c.adminIDs[id] = true
		}
	}
}

func WithAlert(fn Alerter) Option {
	return func(c *Coordinator) { c.alert = fn }
}

func WithConfirm(fn Confirmer) Option {
	return func(c *Coordinator) { c.confirm = fn }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) { c.loc = loc }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// Form holds the booking form fields.
type Form struct {
	Name  string
	Phone string
}

// Coordinator is the per-user screen-state machine.
type Coordinator struct {
	api        API
	externalID string
	loc        *time.Location
	logger     *zerolog.Logger
	alert      Alerter
	confirm    Confirmer

	adminKeyword string
	adminIDs     map[string]bool

	mu     sync.Mutex
	screen Screen
	// epoch invalidates in-flight fetches after navigation; a response
	// stamped with an older epoch is discarded.
	epoch uint64

	slots            models.AvailabilityMap
	form             Form
	vars             map[string]any
	active           *models.ActiveBooking
	cityInput        string
	selectedCity     string // location key: matched city or OnlineKey
	offlineAvailable bool
	selectedDate     string // YYYY-MM-DD
	selectedSlot     string // ISO timestamp
}

// New creates a coordinator for the given identity.
func New(api API, externalID string, opts ...Option) *Coordinator {
	nop := zerolog.Nop()
	c := &Coordinator{
		api:        api,
		externalID: externalID,
		loc:        time.Local,
		logger:     &nop,
		alert:      func(string) {},
		confirm:    func(string) bool { return true },
		screen:     ScreenCitySelect,
		slots:      models.AvailabilityMap{},
		vars:       map[string]any{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads availability and user data. An existing active booking
// routes straight to the MyBooking screen.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	e := c.epoch
	c.mu.Unlock()

	m, err := c.api.GetSlots(ctx)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}

	var data *models.UserData
	if c.externalID != "" {
		data, err = c.api.GetUserData(ctx, c.externalID)
		if err != nil {
			c.logger.Warn().Err(err).Msg("load user data")
			data = &models.UserData{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		return nil
	}
	c.slots = m
	if data != nil {
		if data.Exists {
			c.form = Form{Name: data.FullName, Phone: data.Phone}
			if c.cityInput == "" {
				c.cityInput = data.City
			}
			if data.Variables != nil {
				c.vars = data.Variables
			}
		}
		if data.ActiveBooking != nil {
			c.active = data.ActiveBooking
			c.screen = ScreenMyBooking
		}
	}
	return nil
}

// Screen returns the current screen.
func (c *Coordinator) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

// SearchCity handles the city search action. The admin sentinel routes
// allowlisted identities to the admin screen; anything else is looked
// up case-insensitively against the availability map. An unknown city
// is not an error: it lands on CityResult with no offline option.
func (c *Coordinator) SearchCity(input string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cityInput = input
	if c.adminKeyword != "" && input == c.adminKeyword && c.adminIDs[c.externalID] {
		c.screen = ScreenAdmin
		return
	}

	key, ok := slots.Find(c.slots, input)
	if ok && len(c.slots[key]) > 0 {
		c.selectedCity = key
		c.offlineAvailable = true
	} else {
		c.selectedCity = ""
		c.offlineAvailable = false
	}
	c.screen = ScreenCityResult
}

// OfflineAvailable reports whether the searched city has open slots.
func (c *Coordinator) OfflineAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offlineAvailable
}

// MatchedCity returns the case-preserving matched city key.
func (c *Coordinator) MatchedCity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedCity
}

// ChooseType picks the session type on the CityResult screen. Offline
// is only permitted when the searched city has availability.
func (c *Coordinator) ChooseType(t models.SessionType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screen != ScreenCityResult {
		return fmt.Errorf("choose type on %s: %w", c.screen, ErrNotAllowed)
	}
	switch t {
	case models.TypeOnline:
		c.selectedCity = models.OnlineKey
	case models.TypeOffline:
		if !c.offlineAvailable {
			return fmt.Errorf("offline not available: %w", ErrNotAllowed)
		}
	default:
		return fmt.Errorf("unknown session type %q: %w", t, ErrNotAllowed)
	}
	c.selectedDate = ""
	c.selectedSlot = ""
	c.epoch++
	c.screen = ScreenCalendar
	return nil
}

// AvailableDates returns the calendar dates with slots for the chosen
// location.
func (c *Coordinator) AvailableDates() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slots.Dates(c.slots, c.selectedCity)
}

// SelectDate picks a calendar day; clears any previous slot choice.
func (c *Coordinator) SelectDate(day string) error {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("select date: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenCalendar {
		return fmt.Errorf("select date on %s: %w", c.screen, ErrNotAllowed)
	}
	c.selectedDate = day
	c.selectedSlot = ""
	return nil
}

// SlotsForSelectedDate lists the chosen day's slots sorted ascending.
func (c *Coordinator) SlotsForSelectedDate() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedDate == "" {
		return nil
	}
	return slots.ForDate(c.slots, c.selectedCity, c.selectedDate)
}

// SelectSlot picks a specific timestamp from the chosen day.
func (c *Coordinator) SelectSlot(iso string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenCalendar || c.selectedDate == "" {
		return fmt.Errorf("select slot on %s: %w", c.screen, ErrNotAllowed)
	}
	if !slots.Has(c.slots, c.selectedCity, iso) {
		return fmt.Errorf("slot %s not offered: %w", iso, ErrNotAllowed)
	}
	c.selectedSlot = iso
	return nil
}

// Proceed moves from the calendar to the booking form once both a date
// and a slot are selected.
func (c *Coordinator) Proceed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != ScreenCalendar || c.selectedDate == "" || c.selectedSlot == "" {
		return fmt.Errorf("proceed: %w", ErrNotAllowed)
	}
	c.screen = ScreenBookingForm
	return nil
}

// SetForm stores the contact fields.
func (c *Coordinator) SetForm(f Form) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.form = f
}

// Form returns the current contact fields (prefilled from the profile).
func (c *Coordinator) FormData() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// Submit validates the form and submits the booking. A missing name or
// phone blocks locally without any network call. On success the booked
// slot is removed from the local map (the server already claimed it in
// the store) and the flow moves to the Success screen; on rejection
// the form stays put and the user gets an alert.
func (c *Coordinator) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.screen != ScreenBookingForm {
		c.mu.Unlock()
		return fmt.Errorf("submit on %s: %w", c.screen, ErrNotAllowed)
	}
	if c.form.Name == "" || c.form.Phone == "" || c.selectedSlot == "" {
		c.mu.Unlock()
		return fmt.Errorf("submit: %w", ErrIncomplete)
	}

	t, err := models.ParseISO(c.selectedSlot)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("submit: %w", err)
	}

	req := apiclient.BookingRequest{
		Type:       models.TypeOffline,
		City:       c.selectedCity,
		Slot:       models.FormatDisplaySlot(t.In(c.loc)),
		FullName:   c.form.Name,
		Phone:      c.form.Phone,
		ExternalID: c.externalID,
		CityKey:    c.selectedCity,
		SlotISO:    c.selectedSlot,
	}
	if c.selectedCity == models.OnlineKey {
		req.Type = models.TypeOnline
		req.City = models.OnlineCity
	}
	e := c.epoch
	c.mu.Unlock()

	ok, err := c.api.CreateBooking(ctx, req)
	if err != nil || !ok {
		c.alert("Ошибка записи.")
		if err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		return fmt.Errorf("create booking: %w", ErrRejected)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == e {
		slots.Remove(c.slots, c.selectedCity, c.selectedSlot)
	}
	c.active = &models.ActiveBooking{Type: string(req.Type), City: req.City, Slot: req.Slot}
	c.screen = ScreenSuccess
	return nil
}

// ActiveBooking returns the current active-booking view, or nil.
func (c *Coordinator) ActiveBooking() *models.ActiveBooking {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Variables exposes the platform-owned profile variables (read-only).
func (c *Coordinator) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars
}

// CancelBooking cancels (or reschedules) the active booking after a
// confirmation prompt. The original instant is reconstructed from the
// stored display string. Reschedule re-enters slot selection for the
// same location; plain cancel returns to the city search.
func (c *Coordinator) CancelBooking(ctx context.Context, reschedule bool) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no active booking: %w", ErrNotAllowed)
	}

	prompt := "Отменить запись?"
	if reschedule {
		prompt = "Перенести запись?"
	}
	if !c.confirm(prompt) {
		return nil
	}

	t, err := models.ParseDisplaySlot(active.Slot, c.loc)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	cityKey := active.City
	if active.City == models.OnlineCity {
		cityKey = models.OnlineKey
	}

	ok, err := c.api.CancelBooking(ctx, c.externalID, cityKey, models.FormatISO(t))
	if err != nil {
		c.alert("Не удалось отменить запись.")
		return fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		c.alert("Не удалось отменить запись.")
		return fmt.Errorf("cancel booking: %w", ErrRejected)
	}

	c.mu.Lock()
	c.active = nil
	c.epoch++
	if reschedule {
		c.selectedCity = cityKey
		c.selectedDate = ""
		c.selectedSlot = ""
		c.screen = ScreenCalendar
	} else {
		c.screen = ScreenCitySelect
	}
	c.mu.Unlock()

	// The server restored the slot; refresh so the calendar shows it.
	if err := c.refreshSlots(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("refresh slots after cancel")
	}
	return nil
}

// Back navigates one screen up.
func (c *Coordinator) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var to Screen
	switch c.screen {
	case ScreenCityResult, ScreenAdmin, ScreenSuccess:
		to = ScreenCitySelect
	case ScreenCalendar:
		to = ScreenCityResult
	case ScreenBookingForm:
		to = ScreenCalendar
	case ScreenMyBooking:
		to = ScreenCitySelect
	default:
		return fmt.Errorf("back from %s: %w", c.screen, ErrNotAllowed)
	}
	c.epoch++
	c.screen = to
	return nil
}

// refreshSlots refetches the availability map, discarding the response
// if the user navigated meanwhile.
func (c *Coordinator) refreshSlots(ctx context.Context) error {
	c.mu.Lock()
	e := c.epoch
	c.mu.Unlock()

	m, err := c.api.GetSlots(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		return nil
	}
	c.slots = m
	return nil
}
