package lookup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxScriptBytes = 1 << 20

// Transport loads the callback script for a request URL
type Transport interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPTransport fetches scripts over HTTP
type HTTPTransport struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPTransport creates a transport. The lookup client enforces its own
// deadline through the request context.
func NewHTTPTransport(logger *zap.Logger) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Get issues one GET and returns the body
func (t *HTTPTransport) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/javascript, */*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxScriptBytes))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	t.logger.Debug("Lookup script fetched", zap.Int("bytes", len(body)))
	return body, nil
}
