package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bdgd-cnpj/internal/normalize"
	"github.com/bdgd-cnpj/internal/retry"
)

// Nominatim defaults
const (
	DefaultURL       = "https://nominatim.openstreetmap.org/reverse"
	DefaultUserAgent = "BDGD-Pro/1.0 (geocoding for energy client matching)"
	DefaultDelay     = 1100 * time.Millisecond
	DefaultTimeout   = 15 * time.Second
)

// ErrNoAddress is returned when the service answers without an address
var ErrNoAddress = errors.New("geocode: response has no address")

// ServiceError is an error reported by the geocoding service itself, either as
// an "error" field in the body or as a non-2xx status
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("nominatim: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return "nominatim: " + e.Message
}

// Temporary reports whether the request may succeed later
func (e *ServiceError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NominatimConfig configures a NominatimClient
type NominatimConfig struct {
	URL         string
	UserAgent   string
	Delay       time.Duration
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

// NominatimClient reverse geocodes through the Nominatim API. Calls are
// serialized and spaced by at least Delay.
type NominatimClient struct {
	url       string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	policy    retry.Policy
	mu        sync.Mutex
}

// NewNominatimClient creates a client, filling defaults for zero fields
func NewNominatimClient(config NominatimConfig) *NominatimClient {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	policy := retry.Default("nominatim", config.MaxAttempts)
	policy.InitialInterval = config.Delay
	policy.Retryable = retryable

	return &NominatimClient{
		url:       config.URL,
		userAgent: config.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Every(config.Delay), 1),
		policy:    policy,
	}
}

// retryable accepts transport errors, 429 and 5xx. Everything else, including
// a cancelled limiter wait, fails the call at once.
func retryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, ErrNoAddress) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type nominatimResponse struct {
	Error       string            `json:"error"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
}

// Reverse returns the normalized address at lat, lon
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var addr Address
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		addr, err = c.request(ctx, lat, lon)
		return err
	})
	return addr, err
}

func (c *NominatimClient) request(ctx context.Context, lat, lon float64) (Address, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("addressdetails", "1")
	q.Set("accept-language", "pt-BR")
	q.Set("zoom", "18")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return Address{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Address{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Address{}, &ServiceError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var payload nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Address{}, fmt.Errorf("failed to decode nominatim response: %w", err)
	}
	if payload.Error != "" {
		return Address{}, &ServiceError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if len(payload.Address) == 0 {
		return Address{}, ErrNoAddress
	}

	return parseAddress(payload.Address, payload.DisplayName), nil
}

func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

func clipText(s string, n int) string {
	return strings.TrimSpace(normalize.Clip(normalize.Text(s), n))
}

func parseAddress(a map[string]string, display string) Address {
	uf := normalize.StateCode(a["state"])
	if uf == "" {
		uf = normalize.ISOStateCode(a["ISO3166-2-lvl4"])
	}

	return Address{
		Street:       clipText(first(a, "road", "pedestrian", "footway"), maxStreet),
		Number:       strings.TrimSpace(normalize.Clip(normalize.FirstOfList(a["house_number"]), maxNumber)),
		Neighborhood: clipText(first(a, "suburb", "neighbourhood", "quarter"), maxNeighborhood),
		CEP:          normalize.PostalCode(a["postcode"]),
		Municipio:    clipText(first(a, "city", "town", "village", "municipality"), maxMunicipio),
		UF:           uf,
		Display:      display,
	}
}
