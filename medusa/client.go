package medusa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"reconciler-svc/circuitbreaker"
	"reconciler-svc/models"

	"go.uber.org/zap"
)

// ErrNotFound reports that the order store has no matching entity. It
// is deliberately distinct from transport and server errors so callers
// can tell "proceed to fallback" from "abort and report".
var ErrNotFound = errors.New("order not found")

type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:  getEnv("MEDUSA_API_URL", "http://localhost:9000"),
		APIToken: os.Getenv("MEDUSA_API_TOKEN"),
		Timeout:  15 * time.Second,
	}
}

// Client wraps the commerce backend's order API. The store is external
// and externally synchronized; no client-side locking.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("medusa: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		logger:     logger,
	}, nil
}

// GetOrder fetches one order by id. Returns ErrNotFound for a missing
// order.
func (c *Client) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var resp struct {
		Order models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, "/admin/orders/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// FindOrderByMetadata locates the order whose metadata bag carries the
// given key/value. Returns ErrNotFound when none matches.
func (c *Client) FindOrderByMetadata(ctx context.Context, key, value string) (*models.Order, error) {
	q := url.Values{}
	q.Set("metadata["+key+"]", value)
	q.Set("limit", "1")

	var resp struct {
		Orders []models.Order `json:"orders"`
	}
	err := c.do(ctx, http.MethodGet, "/admin/orders?"+q.Encode(), nil, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Orders) == 0 {
		return nil, ErrNotFound
	}
	return &resp.Orders[0], nil
}

// UpdateOrderMetadata replaces the order's metadata bag. Callers merge
// over a freshly fetched bag so prior entries (the activity log in
// particular) are preserved, never overwritten blind.
func (c *Client) UpdateOrderMetadata(ctx context.Context, id string, metadata map[string]any) (*models.Order, error) {
	body := map[string]any{"metadata": metadata}
	var resp struct {
		Order models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/admin/orders/"+url.PathEscape(id), body, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// CreateOrder synthesizes an order directly, bypassing cart checkout.
// Used only by the reconciliation fallback path.
func (c *Client) CreateOrder(ctx context.Context, input models.CreateOrderInput) (*models.Order, error) {
	var resp struct {
		Order models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/admin/orders", input, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// CompleteCart runs the backend's native cart-to-order completion.
// Fails with ErrNotFound when the cart no longer exists (expired or
// already completed).
func (c *Client) CompleteCart(ctx context.Context, cartID string) (*models.Order, error) {
	var resp struct {
		Type  string       `json:"type"`
		Order models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/store/carts/"+url.PathEscape(cartID)+"/complete", nil, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Type != "order" || resp.Order.ID == "" {
		return nil, fmt.Errorf("cart completion did not produce an order (type %q)", resp.Type)
	}
	return &resp.Order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	// Absence is an expected answer, not a store failure; it must not
	// count against the breaker.
	var notFound bool
	err := c.breaker.Execute(ctx, func() error {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("order store unavailable: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var apiErr struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
				return fmt.Errorf("order store error (%d): %s", resp.StatusCode, apiErr.Message)
			}
			return fmt.Errorf("order store error: status %d", resp.StatusCode)
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
