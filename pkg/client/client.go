// Package client is a typed HTTP client for the token API.
//
// It implements tokens.BalanceService and tokens.Answerer, so a
// tokens.Coordinator can run unchanged against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

const maxErrorBody = 4 * 1024

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

// Config holds client settings.
type Config struct {
	// BaseURL of the API server (required)
	BaseURL string

	// Token is the session JWT sent as a bearer token
	Token string

	// HTTPClient overrides http.DefaultClient
	HTTPClient *http.Client
}

// Client talks to the token API on behalf of one user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
	}, nil
}

// Balance returns the caller's balance.
func (c *Client) Balance(ctx context.Context) (int, error) {
	var resp struct {
		Tokens *int `json:"tokens"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/tokens", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Tokens == nil {
		return 0, fmt.Errorf("balance response without tokens")
	}
	return *resp.Tokens, nil
}

// Deduct debits amount and returns the refreshed balance.
func (c *Client) Deduct(ctx context.Context, amount int) (int, error) {
	return c.mutate(ctx, tokens.ActionDeduct, amount)
}

// Add credits amount and returns the refreshed balance.
func (c *Client) Add(ctx context.Context, amount int) (int, error) {
	return c.mutate(ctx, tokens.ActionAdd, amount)
}

func (c *Client) mutate(ctx context.Context, action tokens.Action, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	req := struct {
		Action tokens.Action `json:"action"`
		Amount int           `json:"amount"`
	}{action, amount}

	var resp struct {
		Success bool `json:"success"`
		Tokens  *int `json:"tokens"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/tokens", req, &resp); err != nil {
		return 0, err
	}
	if !resp.Success || resp.Tokens == nil {
		return 0, tokens.ErrOperationFailed
	}
	return *resp.Tokens, nil
}

// Ask submits a question and returns the streaming answer.
func (c *Client) Ask(ctx context.Context, q *tokens.Question) (*tokens.AnswerStream, error) {
	body := struct {
		Content string            `json:"content"`
		Edge    tokens.EdgeTarget `json:"edge,omitempty"`
	}{q.Content, q.Edge}

	res, err := c.do(ctx, http.MethodPost, "/ask", body)
	if err != nil {
		return nil, err
	}
	return tokens.NewAnswerStream(res.Body, res.Header.Get(tokens.HeaderQuestionTokens), func() string {
		return res.Trailer.Get(tokens.HeaderQuestionTokens)
	}), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	res, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do sends the request and converts non-2xx responses into errors.
func (c *Client) do(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tokens.ErrStorageUnavailable, err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()

	apiErr := &APIError{Status: res.StatusCode}
	payload, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &e) == nil && e.Error != "" {
		apiErr.Message = e.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(payload))
	}
	return nil, classify(apiErr)
}

// classify maps API errors onto the matching sentinels while keeping the
// APIError reachable through errors.As.
func classify(err *APIError) error {
	var sentinel error
	switch err.Status {
	case http.StatusUnauthorized:
		sentinel = tokens.ErrUnauthenticated
	case http.StatusPaymentRequired:
		sentinel = tokens.ErrInsufficientTokens
	case http.StatusBadRequest:
		if err.Message == "Operation failed" {
			sentinel = tokens.ErrOperationFailed
		}
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
