package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultRazorpayURL is the production API base.
	DefaultRazorpayURL = "https://api.razorpay.com"

	dialTimeout           = 5 * time.Second
	responseHeaderTimeout = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// RazorpayConfig holds the API credentials and limits.
type RazorpayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// RazorpayClient talks to the Razorpay Orders API.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("razorpay: status %d: %s %s", e.StatusCode, e.Code, e.Description)
}

// NewRazorpayClient creates a client. It does not follow redirects.
func NewRazorpayClient(cfg RazorpayConfig) *RazorpayClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRazorpayURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &RazorpayClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   dialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   dialTimeout,
				ResponseHeaderTimeout: responseHeaderTimeout,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Receipt  string `json:"receipt"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates an order and returns its id.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(orderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("razorpay: order response without id")
	}
	return resp.ID, nil
}

// FetchOrder retrieves an order by id.
func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp orderResponse
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &resp)
	if err != nil {
		// Unknown ids come back as 400 BAD_REQUEST_ERROR.
		var ge *GatewayError
		if errors.As(err, &ge) && (ge.StatusCode == http.StatusNotFound || ge.Code == "BAD_REQUEST_ERROR") {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, err
	}

	return &Order{
		ID:       resp.ID,
		Status:   resp.Status,
		Receipt:  resp.Receipt,
		Amount:   resp.Amount,
		Currency: resp.Currency,
	}, nil
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := &GatewayError{StatusCode: resp.StatusCode}
		var er errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &er) == nil {
			ge.Code = er.Error.Code
			ge.Description = er.Error.Description
		}
		return ge
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode razorpay response: %w", err)
	}
	return nil
}

var _ Gateway = (*RazorpayClient)(nil)
