// Package mcp exposes the retrieval engine over the Model Context
// Protocol, so MCP clients (Claude Desktop, editors) can drive the same
// four tools the conversational agent uses.
package mcp

import (
	"errors"
	"fmt"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// MCP error codes. The -32000 range is reserved for server-defined
// errors; the rest are standard JSON-RPC.
const (
	// ErrCodeBackendUnavailable indicates the property backend is down.
	ErrCodeBackendUnavailable = -32001

	// ErrCodeIndexUnavailable indicates the vector index cannot serve.
	ErrCodeIndexUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error.
func NewInvalidParamsError(message string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: message}
}

// MapError converts engine errors to MCP errors by code family:
// validation failures become invalid-params, upstream and storage
// failures get the server-defined codes, everything else is internal.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var appErr *rcerrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case rcerrors.KindBadRequest:
			return &MCPError{Code: ErrCodeInvalidParams, Message: appErr.Message}
		case rcerrors.KindUpstreamTimeout:
			return &MCPError{Code: ErrCodeTimeout, Message: appErr.Message}
		case rcerrors.KindUpstreamUnavailable, rcerrors.KindRateLimited:
			return &MCPError{Code: ErrCodeBackendUnavailable,
				Message: "Property backend unavailable: " + appErr.Message}
		case rcerrors.KindVectorIO, rcerrors.KindEmbeddingFailed:
			return &MCPError{Code: ErrCodeIndexUnavailable,
				Message: "Index unavailable: " + appErr.Message}
		}
	}

	return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
}
