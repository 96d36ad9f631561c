// Package answer calls the edge functions that produce streamed answers.
package answer

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

// Config holds edge function endpoints.
type Config struct {
	// Endpoints maps each edge target to its function URL.
	Endpoints map[tokens.EdgeTarget]string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// HTTPClient overrides http.DefaultClient. It should not set a Timeout,
	// which would cut long answers short; bound requests with the context instead.
	HTTPClient *http.Client

	Logger tokens.Logger
}

// Client implements tokens.Answerer against the edge functions.
type Client struct {
	endpoints  map[tokens.EdgeTarget]string
	apiKey     string
	httpClient *http.Client
	logger     tokens.Logger
}

// UpstreamError is returned when an edge function answers with a non-2xx status.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("answer backend returned status %d: %s", e.Status, e.Body)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Messages []message `json:"messages"`
}

// New creates a Client. At least one endpoint is required.
func New(config Config) (*Client, error) {
	endpoints := make(map[tokens.EdgeTarget]string, len(config.Endpoints))
	for edge, url := range config.Endpoints {
		if strings.TrimSpace(url) != "" {
			endpoints[edge] = url
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one answer endpoint is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = &tokens.NoopLogger{}
	}

	return &Client{
		endpoints:  endpoints,
		apiKey:     config.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Ask posts the question to its edge function and returns the streaming answer.
// The stream is bound to ctx.
func (c *Client) Ask(ctx context.Context, q *tokens.Question) (*tokens.AnswerStream, error) {
	edge := q.Edge
	if edge == "" {
		edge = tokens.DefaultEdge
	}
	url, ok := c.endpoints[edge]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no endpoint", tokens.ErrUnknownEdge, edge)
	}

	body, err := json.Marshal(request{Messages: []message{{Role: "user", Content: q.Content}}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach answer backend: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		c.logger.Warn("answer backend rejected question",
			tokens.Field{Key: "question_id", Value: q.ID},
			tokens.Field{Key: "edge", Value: string(edge)},
			tokens.Field{Key: "status", Value: res.StatusCode})
		return nil, &UpstreamError{Status: res.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	c.logger.Debug("answer stream opened",
		tokens.Field{Key: "question_id", Value: q.ID},
		tokens.Field{Key: "edge", Value: string(edge)})

	return tokens.NewAnswerStream(res.Body, res.Header.Get(tokens.HeaderQuestionTokens), func() string {
		return res.Trailer.Get(tokens.HeaderQuestionTokens)
	}), nil
}
