// Package providers contains model-provider transports for the conversation
// engine. Each transport issues one streaming HTTP request per model call and
// hands the raw SSE body to the stream decoder; decoding never happens here.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Minute
	maxErrorBody   = 8 << 10
)

// postStream marshals payload, POSTs it to url and returns the response body
// once the provider has accepted the request.
func postStream(ctx context.Context, client *http.Client, provider, model, url string, headers http.Header, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError(provider, model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError(provider, model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header[k] = v
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(provider, model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return nil, NewProviderError(provider, model, fmt.Errorf("%s status %d (read body failed: %w)", provider, resp.StatusCode, err)).WithStatus(resp.StatusCode)
		}
		return nil, NewProviderError(provider, model, fmt.Errorf("%s status %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}
	return resp.Body, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func trimBaseURL(raw, fallback string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return fallback
	}
	return base
}
