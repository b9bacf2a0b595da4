package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultClipDropURL is the ClipDrop text-to-image endpoint.
	DefaultClipDropURL = "https://clipdrop-api.co/text-to-image/v1"

	maxImageBytes = 20 << 20
	maxErrorBytes = 4 << 10
)

// ClipDropClient implements Provider against the ClipDrop API.
type ClipDropClient struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClipDropClient creates a client. Per-call deadlines come from the
// caller's context; the transport only bounds connection setup.
func NewClipDropClient(url, apiKey string) *ClipDropClient {
	if url == "" {
		url = DefaultClipDropURL
	}
	return &ClipDropClient{
		url:    url,
		apiKey: apiKey,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Generate posts the prompt as multipart form data and returns the image.
func (c *ClipDropClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("prompt", prompt); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return data, nil
}

var _ Provider = (*ClipDropClient)(nil)
