// Package supabase provides a tokens.Storage implementation that calls the balance
// procedures of a Supabase (PostgREST) project. The procedures themselves are
// defined in storage/postgres/schema.sql and run atomically inside the database.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBytes  = 4 * 1024
)

// Storage implements tokens.Storage over PostgREST remote procedure calls
type Storage struct {
	restURL   string
	apiKey    string
	transport http.RoundTripper
	timeout   time.Duration
}

// Config holds Supabase storage configuration
type Config struct {
	// URL is the project URL, e.g. https://xyz.supabase.co
	URL string

	// APIKey is sent as both apikey and bearer token (service role key on servers)
	APIKey string

	// Transport overrides the HTTP transport (default: http.DefaultTransport)
	Transport http.RoundTripper

	// Timeout bounds each procedure call (default: 10 seconds)
	Timeout time.Duration
}

// New creates a new Supabase storage adapter
func New(config Config) (*Storage, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if config.Transport == nil {
		config.Transport = http.DefaultTransport
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &Storage{
		restURL:   strings.TrimRight(config.URL, "/") + "/rest/v1",
		apiKey:    config.APIKey,
		transport: config.Transport,
		timeout:   config.Timeout,
	}, nil
}

// GetBalance implements tokens.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int, error) {
	raw, err := s.rpc(ctx, "get_user_tokens", map[string]interface{}{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return decodeCount(raw)
}

// DeductTokens implements tokens.Storage
func (s *Storage) DeductTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	ok, err := s.call(ctx, "deduct_user_tokens", map[string]interface{}{
		"user_id":          userID,
		"tokens_to_deduct": amount,
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, tokens.ErrInsufficientBalance
	}
	return s.GetBalance(ctx, userID)
}

// AddTokens implements tokens.Storage
func (s *Storage) AddTokens(ctx context.Context, userID string, amount int) (int, error) {
	if err := tokens.ValidateAmount(amount); err != nil {
		return 0, err
	}
	ok, err := s.call(ctx, "add_user_tokens", map[string]interface{}{
		"user_id":       userID,
		"tokens_to_add": amount,
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("add_user_tokens: %w", tokens.ErrOperationFailed)
	}
	return s.GetBalance(ctx, userID)
}

func (s *Storage) call(ctx context.Context, fn string, args map[string]interface{}) (bool, error) {
	raw, err := s.rpc(ctx, fn, args)
	if err != nil {
		return false, err
	}
	return decodeBool(raw)
}

// rpc runs one procedure call. Each call gets its own postgrest client because
// the client reports failures through a shared ClientError field.
func (s *Storage) rpc(ctx context.Context, fn string, args map[string]interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client := postgrest.NewClient(s.restURL, "", map[string]string{
		"apikey":        s.apiKey,
		"Authorization": "Bearer " + s.apiKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("invalid supabase URL: %w", client.ClientError)
	}
	client.Transport.Parent = &callTransport{ctx: ctx, next: s.transport}

	body := client.Rpc(fn, "", args)
	if err := client.ClientError; err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("supabase rpc %s: status %d, body: %s", fn, se.status, se.body)
		}
		return nil, fmt.Errorf("%w: %s: %w", tokens.ErrStorageUnavailable, fn, err)
	}
	return json.RawMessage(body), nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

// callTransport binds requests to ctx and turns non-2xx responses into errors.
type callTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBytes))
		return nil, &statusError{status: res.StatusCode, body: string(bytes.TrimSpace(payload))}
	}
	return res, nil
}

// decodeCount accepts a JSON number, a numeric string or null (zero).
func decodeCount(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("invalid token count %s: %w", raw, err)
		}
	} else {
		text = string(raw)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid token count %s", raw)
	}
	return int(f), nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	var ok bool
	if err := json.Unmarshal(bytes.TrimSpace(raw), &ok); err != nil {
		return false, fmt.Errorf("invalid boolean result %s: %w", raw, err)
	}
	return ok, nil
}
