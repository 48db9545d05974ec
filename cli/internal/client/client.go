// Package client talks to the producer and consumer HTTP APIs.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// FieldIssue is one rejected field of a submission.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response from either service.
type APIError struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"error"`
	Message    string       `json:"message,omitempty"`
	Issues     []FieldIssue `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("request failed with status %d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	if len(e.Issues) > 0 {
		parts := make([]string, 0, len(e.Issues))
		for _, is := range e.Issues {
			parts = append(parts, is.Field+": "+is.Message)
		}
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

type baseClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newBaseClient(baseURL, token string) baseClient {
	return baseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (c *baseClient) do(ctx context.Context, req *http.Request, out any) error {
	req = req.WithContext(ctx)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
