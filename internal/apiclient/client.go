// Package apiclient is the Go client of the booking API, used by the
// coordinator and the bot. Calls time out after 30 seconds and report
// failure to the caller; there is no retry policy.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"okoshko/internal/models"

	"github.com/redis/go-redis/v9"
)

const requestTimeout = 30 * time.Second

const slotsCacheKey = "okoshko:slots"

// BookingRequest carries the createBooking form fields.
type BookingRequest struct {
	Type       models.SessionType
	City       string
	Slot       string
	FullName   string
	Phone      string
	ExternalID string
	CityKey    string
	SlotISO    string
}

// Client calls the action-multiplexed endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// New constructs a client for the given /exec endpoint URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// UseRedisCache enables read-through caching of getSlots responses.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// GetSlots fetches the availability map.
func (c *Client) GetSlots(ctx context.Context) (models.AvailabilityMap, error) {
	var wrap struct {
		Slots models.AvailabilityMap `json:"slots"`
	}
	if c.readCache(ctx, slotsCacheKey, &wrap) {
		return wrap.Slots, nil
	}
	if err := c.doGet(ctx, "?action=getSlots", &wrap); err != nil {
		return nil, err
	}
	if wrap.Slots == nil {
		wrap.Slots = models.AvailabilityMap{}
	}
	c.writeCache(ctx, slotsCacheKey, wrap)
	return wrap.Slots, nil
}

// GetUserData fetches the profile and active-booking view.
func (c *Client) GetUserData(ctx context.Context, externalID string) (*models.UserData, error) {
	var data models.UserData
	q := "?action=getUserData&external_id=" + url.QueryEscape(externalID)
	if err := c.doGet(ctx, q, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CreateBooking submits a booking; returns the server's success flag.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (bool, error) {
	form := url.Values{}
	form.Set("action", "createBooking")
	form.Set("type", string(req.Type))
	form.Set("city", req.City)
	form.Set("slot", req.Slot)
	form.Set("full_name", req.FullName)
	form.Set("phone", req.Phone)
	form.Set("external_id", req.ExternalID)
	if req.CityKey != "" {
		form.Set("city_key", req.CityKey)
	}
	if req.SlotISO != "" {
		form.Set("slot_iso", req.SlotISO)
	}
	return c.postForm(ctx, form)
}

// CancelBooking cancels the caller's active booking and asks the
// server to restore the slot.
func (c *Client) CancelBooking(ctx context.Context, externalID, cityKey, slotISO string) (bool, error) {
	form := url.Values{}
	form.Set("action", "cancelBooking")
	form.Set("external_id", externalID)
	form.Set("city", cityKey)
	form.Set("slot_iso", slotISO)
	return c.postForm(ctx, form)
}

// SaveSlots rewrites the availability map (admin flows).
func (c *Client) SaveSlots(ctx context.Context, m models.AvailabilityMap, externalID string) (bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("marshal slots: %w", err)
	}
	form := url.Values{}
	form.Set("action", "saveSlots")
	form.Set("slots", string(data))
	if externalID != "" {
		form.Set("external_id", externalID)
	}
	return c.postForm(ctx, form)
}

func (c *Client) doGet(ctx context.Context, query string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+query, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postForm(ctx context.Context, form url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	if result.Success {
		c.invalidateCache(ctx, slotsCacheKey)
	}
	return result.Success, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) invalidateCache(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, key).Err()
}
