// Package profile talks to the remote user-profile service and ships a small
// in-memory implementation of it for development.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CodexForgeBR/appboot/internal/model"
)

// ErrNotFound is returned when the service has no profile for the user.
var ErrNotFound = errors.New("profile: user not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("profile service returned %d: %s", e.Code, e.Message)
}

type stepRequest struct {
	Step string `json:"step"`
}

type phoneRequest struct {
	PhoneType string `json:"phone_type"`
}

type completeRequest struct {
	CompletedAt time.Time `json:"completed_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// TokenSource returns the bearer token for requests, or "" for none.
type TokenSource func(ctx context.Context) string

// Client is an HTTP client for the profile service.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

// NewClient returns a client for baseURL. A zero timeout means no timeout.
func NewClient(baseURL string, timeout time.Duration, token TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// Get fetches the profile of id.
func (c *Client) Get(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/users/"+id, nil, &u)
	return u, err
}

// Put replaces the profile of u.ID.
func (c *Client) Put(ctx context.Context, u model.User) error {
	return c.do(ctx, http.MethodPut, "/users/"+u.ID, u, nil)
}

// SetStep records the in-progress onboarding step.
func (c *Client) SetStep(ctx context.Context, id string, step model.Step) error {
	return c.do(ctx, http.MethodPatch, "/users/"+id+"/onboarding-step", stepRequest{Step: string(step)}, nil)
}

// SetPhoneType records the selected phone type.
func (c *Client) SetPhoneType(ctx context.Context, id string, phone model.PhoneType) error {
	return c.do(ctx, http.MethodPatch, "/users/"+id+"/phone-type", phoneRequest{PhoneType: string(phone)}, nil)
}

// MarkDone sets the completion flag backing step.
func (c *Client) MarkDone(ctx context.Context, id string, step model.Step) error {
	return c.do(ctx, http.MethodPost, "/users/"+id+"/steps/"+string(step), nil, nil)
}

// Complete stamps the onboarding completion marker.
func (c *Client) Complete(ctx context.Context, id string, at time.Time) error {
	return c.do(ctx, http.MethodPost, "/users/"+id+"/onboarding/complete", completeRequest{CompletedAt: at.UTC()}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
