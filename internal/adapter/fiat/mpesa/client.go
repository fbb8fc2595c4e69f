package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"settlement-engine/config"
	"settlement-engine/internal/core/ports"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	sandboxURL    = "https://sandbox.safaricom.co.ke"
	productionURL = "https://api.safaricom.co.ke"
)

// ErrRejected is returned when the rail answers a submission with a non-zero response code.
var ErrRejected = errors.New("mpesa: request rejected")

// APIError is a non-2xx answer from the rail.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa: HTTP %d: %s %s", e.Status, e.Code, e.Message)
}

// Client implements ports.FiatRail over the Daraja API.
type Client struct {
	cfg     config.MpesaConfig
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ ports.FiatRail = (*Client)(nil)

// NewClient builds a client. BaseURL overrides the environment's host.
func NewClient(cfg config.MpesaConfig, log zerolog.Logger) *Client {
	baseURL := sandboxURL
	if cfg.Environment == "production" {
		baseURL = productionURL
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("component", "mpesa").Logger(),
		now:     time.Now,
	}
}

// accessToken returns the cached OAuth token, refreshing it a minute before expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa token: %w", decodeAPIError(resp))
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("mpesa token: decode: %w", err)
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(res.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = res.AccessToken
	c.tokenExpiry = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

// post sends an authenticated JSON request and decodes the JSON answer into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mpesa %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mpesa %s: decode: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if json.Unmarshal(raw, &body) == nil && body.ErrorCode != "" {
		apiErr.Code = body.ErrorCode
		apiErr.Message = body.ErrorMessage
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// NormalizePhone converts local Kenyan formats to the 2547XXXXXXXX form the rail expects.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	switch {
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "254" + p[1:]
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		return "254" + p
	}
	return p
}
