package daemon

import (
	"github.com/Aman-CERP/repoindex/internal/scheduler"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing    = "ping"
	MethodStatus  = "status"
	MethodTrigger = "trigger"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrCodeUnknownKind is returned when a request names a disabled kind.
const ErrCodeUnknownKind = -32001

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// StatusResult describes a running daemon.
type StatusResult struct {
	Running    bool                         `json:"running"`
	PID        int                          `json:"pid"`
	Uptime     string                       `json:"uptime"`
	Owner      string                       `json:"owner"`
	LeasesHeld int                          `json:"leases_held"`
	Schedulers []scheduler.ProgressSnapshot `json:"schedulers"`
	Workers    []WorkerStatus               `json:"workers,omitempty"`
}

// WorkerStatus summarizes the worker pool of one kind.
type WorkerStatus struct {
	Kind    string `json:"kind"`
	Queue   string `json:"queue"`
	Handled int64  `json:"handled"`
}

// TriggerParams select the schedulers to run now. An empty Kind means all.
type TriggerParams struct {
	Kind string `json:"kind,omitempty"`
}

// TriggerResult lists the kinds whose pass was requested.
type TriggerResult struct {
	Triggered []string `json:"triggered"`
}
