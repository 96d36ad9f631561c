// Package api exposes the token balance and question endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

const maxUserIDLen = 255

// Handler serves /tokens and /ask
type Handler struct {
	config   Config
	estimate func(string) int
}

// GetTokens returns the caller's balance
func (h *Handler) GetTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	balance, err := h.config.Store.Balance(r.Context(), userID)
	if err != nil {
		h.config.Logger.Error("failed to read token balance",
			tokens.Field{Key: "user_id", Value: userID}, tokens.Field{Key: "error", Value: err})
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{Tokens: balance})
}

// PostTokens applies an add or deduct and returns the refreshed balance
func (h *Handler) PostTokens(w http.ResponseWriter, r *http.Request) {
	var req MutationRequest
	if err := h.decode(w, r, &req); err != nil || req.Action == "" {
		writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}
	action := tokens.Action(req.Action)
	if !action.Valid() {
		writeError(w, http.StatusBadRequest, msgInvalidAction)
		return
	}

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var applied bool
	switch action {
	case tokens.ActionAdd:
		applied = h.config.Store.Add(ctx, userID, amount)
	case tokens.ActionDeduct:
		applied = h.config.Store.Deduct(ctx, userID, amount)
	}
	if !applied {
		writeError(w, http.StatusBadRequest, msgOperationFailed)
		return
	}

	writeJSON(w, http.StatusOK, MutationResponse{
		Success: true,
		Tokens:  h.config.Store.GetBalance(ctx, userID),
	})
}

// Ask forwards a question to the answer backend and streams the answer back
// as markdown, flushing after every chunk. The upstream cost is passed through
// in X-Question-Tokens, and repeated as a trailer once the stream completes.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.config.Answerer == nil {
		writeError(w, http.StatusServiceUnavailable, msgNoAnswerBackend)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req AskRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, msgEmptyQuestion)
		return
	}
	edge, err := tokens.ParseEdgeTarget(req.Edge)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgUnknownEdge)
		return
	}

	q := &tokens.Question{
		ID:              uuid.NewString(),
		Content:         content,
		Edge:            edge,
		EstimatedTokens: h.estimate(content),
	}
	log := []tokens.Field{
		{Key: "user_id", Value: userID},
		{Key: "question_id", Value: q.ID},
		{Key: "edge", Value: string(edge)},
	}

	ctx := r.Context()
	stream, err := h.config.Answerer.Ask(ctx, q)
	if err != nil {
		h.config.Logger.Error("answer backend failed", append(log, tokens.Field{Key: "error", Value: err})...)
		h.config.Metrics.RecordStreamResult(tokens.StreamFailed)
		if errors.Is(err, tokens.ErrUnknownEdge) {
			writeError(w, http.StatusBadRequest, msgUnknownEdge)
			return
		}
		writeError(w, http.StatusBadGateway, msgUpstreamFailed)
		return
	}
	defer stream.Close()

	header := w.Header()
	header.Set("Content-Type", "text/markdown; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set(tokens.HeaderQuestionTokens, stream.DeclaredTokens())
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for chunk, err := range stream.All() {
		if err != nil {
			result := tokens.StreamFailed
			if ctx.Err() != nil {
				result = tokens.StreamCanceled
			}
			h.config.Logger.Warn("answer stream ended early", append(log, tokens.Field{Key: "error", Value: err})...)
			h.config.Metrics.RecordStreamResult(result)
			return
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			h.config.Logger.Debug("client went away", log...)
			h.config.Metrics.RecordStreamResult(tokens.StreamCanceled)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	actual, _ := stream.ActualTokens()
	header.Set(http.TrailerPrefix+tokens.HeaderQuestionTokens, strconv.Itoa(actual))
	h.config.Metrics.RecordStreamResult(tokens.StreamCompleted)
	h.config.Logger.Info("question streamed", append(log,
		tokens.Field{Key: "estimated_tokens", Value: q.EstimatedTokens},
		tokens.Field{Key: "actual_tokens", Value: actual})...)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" || len(userID) > maxUserIDLen {
		writeError(w, http.StatusUnauthorized, msgUnauthenticated)
		return "", false
	}
	return userID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	return dec.Decode(v)
}

// parseAmount accepts only positive integer JSON numbers.
func parseAmount(raw json.RawMessage) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
