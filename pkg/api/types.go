package api

import "encoding/json"

// Error messages returned in {"error": ...} bodies.
const (
	msgUnauthenticated   = "User not authenticated"
	msgInternal          = "Internal Server Error"
	msgInvalidParameters = "Invalid parameters"
	msgInvalidAction     = "Invalid action"
	msgOperationFailed   = "Operation failed"
	msgInvalidRequest    = "Invalid request"
	msgEmptyQuestion     = "Empty question"
	msgUnknownEdge       = "Unknown edge target"
	msgUpstreamFailed    = "Answer backend failed"
	msgNoAnswerBackend   = "Answer backend not configured"
)

// BalanceResponse is the body of GET /tokens
type BalanceResponse struct {
	Tokens int `json:"tokens"`
}

// MutationRequest is the body of POST /tokens
// Amount is kept raw so that only positive integer JSON numbers are accepted
type MutationRequest struct {
	Action string          `json:"action"`
	Amount json.RawMessage `json:"amount"`
}

// MutationResponse is the body of a successful POST /tokens
type MutationResponse struct {
	Success bool `json:"success"`
	Tokens  int  `json:"tokens"`
}

// AskRequest is the body of POST /ask
type AskRequest struct {
	Content string `json:"content"`
	Edge    string `json:"edge,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}
