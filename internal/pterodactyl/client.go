package pterodactyl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout    = 30 * time.Second
	maxRetries        = 3
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2.0

	acceptHeader = "Application/vnd.pterodactyl.v1+json"
)

// Client is an HTTP client for the Pterodactyl application API
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	initialBackoff time.Duration
}

// New creates a client for the panel at baseURL authenticated with an
// application API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		initialBackoff: initialBackoff,
	}
}

// WithHTTPClient sets a custom HTTP client
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// WithBackoff sets the first retry delay after a rate-limited response.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.initialBackoff = d
	return c
}

// request executes an HTTP request, retrying rate-limited responses with
// exponential backoff.
func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	url := c.baseURL + "/api/application" + path
	backoff := c.initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", acceptHeader)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()

			if attempt == maxRetries {
				return nil, &APIError{
					StatusCode: http.StatusTooManyRequests,
					Errors:     []ErrorDetail{{Detail: "rate limit exceeded after retries"}},
				}
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(math.Min(float64(backoff)*backoffMultiplier, float64(maxBackoff)))
				continue
			}
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("unexpected retry loop exit")
}

func decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Errors []ErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err == nil && len(envelope.Errors) > 0 {
		apiErr.Errors = envelope.Errors
	} else if len(bodyBytes) > 0 {
		apiErr.Errors = []ErrorDetail{{Detail: strings.TrimSpace(string(bodyBytes))}}
	}
	return apiErr
}

// decodeResponse decodes a JSON response into the target struct
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if target == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
