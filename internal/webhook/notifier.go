// Package webhook forwards booking events to the messaging platform's
// callback URL. Delivery failures are logged and never affect the
// booking outcome.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"okoshko/internal/events"
	"okoshko/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	// Event names understood by the automation platform.
	MessageBooking = "mini_app_booking"
	MessageCancel  = "mini_app_cancel"

	deliveryTimeout = 10 * time.Second
)

// Payload is the callback body.
type Payload struct {
	ClientID        string         `json:"client_id"`
	Message         string         `json:"message"`
	Name            string         `json:"name,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	City            string         `json:"city,omitempty"`
	BookingSlot     string         `json:"booking_slot,omitempty"`
	BookingStatus   string         `json:"booking_status"`
	ClientVariables map[string]any `json:"client_variables,omitempty"`
}

// Notifier posts payloads to the callback URL.
type Notifier struct {
	callbackURL string
	httpClient  *http.Client
	logger      *zerolog.Logger
}

func NewNotifier(callbackURL string, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: deliveryTimeout},
		logger:      logger,
	}
}

// Notify delivers one payload. Callers that must not fail on delivery
// errors go through Subscribe instead.
func (n *Notifier) Notify(ctx context.Context, p Payload) error {
	if n.callbackURL == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.callbackURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http %d", resp.StatusCode)
	}
	return nil
}

// Subscribe wires the notifier to the event bus. Handlers swallow
// delivery errors after logging them.
func (n *Notifier) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TypeBookingCreated, func(e events.Event) {
		p := Payload{
			ClientID:      e.Booking.ExternalID,
			Message:       MessageBooking,
			Name:          e.Booking.FullName,
			Phone:         e.Booking.Phone,
			City:          e.Booking.City,
			BookingSlot:   e.Booking.Slot,
			BookingStatus: "Created",
		}
		if e.Client != nil {
			p.ClientVariables = e.Client.Variables
		}
		n.deliver(p)
	})
	bus.Subscribe(events.TypeBookingCancelled, func(e events.Event) {
		n.deliver(Payload{
			ClientID:      e.Booking.ExternalID,
			Message:       MessageCancel,
			BookingStatus: "Cancelled",
		})
	})
}

func (n *Notifier) deliver(p Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := n.Notify(ctx, p); err != nil {
		metrics.IncWebhookFailure()
		n.logger.Error().Err(err).Str("client_id", p.ClientID).Str("message", p.Message).
			Msg("webhook delivery failed")
	}
}
