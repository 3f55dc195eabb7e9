package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// ErrTransient marks endpoint failures worth retrying: rate limits, server
// errors, and network faults. Everything else (auth, malformed requests,
// unparseable output) is fatal and surfaces immediately.
var ErrTransient = errors.New("transient endpoint failure")

// IsTransient reports whether an error is a retryable endpoint condition.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// doRequest posts to the API once, with rate limiting. The pipeline owns the
// retry loop; this client performs a single attempt and classifies the
// outcome as transient or fatal.
func (c *OpenAIClient) doRequest(ctx context.Context, path string, body *chatRequest) (*chatResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: request failed: %v", ErrTransient, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Record429()
	}
	if retryableStatus(resp.StatusCode) {
		c.logger.Warn("retryable API error", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrTransient, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	return &chatResp, nil
}

// retryableStatus returns true for status codes worth retrying.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524: // Cloudflare errors
		return true
	default:
		return statusCode >= 500
	}
}
