package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"reconciler-svc/circuitbreaker"
	"reconciler-svc/models"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.stripe.com"

// Config is supplied once at startup; the client is constructed in main
// and injected wherever provider access is needed.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:  os.Getenv("STRIPE_API_KEY"),
		BaseURL: getEnv("STRIPE_API_URL", defaultBaseURL),
		Timeout: 15 * time.Second,
	}
}

// Client is a thin REST client for the payment provider. It only reads:
// payment intents and events are created and owned provider-side.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("stripe: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		logger:     logger,
	}, nil
}

// RetrievePaymentIntent fetches the live intent state from the
// provider. Callers never trust client-supplied status.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(id) + "?expand[]=charges"
	if err := c.get(ctx, path, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// RetrieveEvent fetches a single event by id.
func (c *Client) RetrieveEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := c.get(ctx, "/v1/events/"+url.PathEscape(id), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListSucceededEvents lists payment_intent.succeeded events created at
// or after since, up to limit.
func (c *Client) ListSucceededEvents(ctx context.Context, since time.Time, limit int) ([]models.Event, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("types[]", models.EventPaymentIntentSucceeded)
	q.Set("created[gte]", strconv.FormatInt(since.Unix(), 10))

	var list struct {
		Data []models.Event `json:"data"`
	}
	if err := c.get(ctx, "/v1/events?"+q.Encode(), &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("provider unavailable: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
				return fmt.Errorf("provider error (%d): %s", resp.StatusCode, apiErr.Error.Message)
			}
			return fmt.Errorf("provider error: status %d", resp.StatusCode)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
