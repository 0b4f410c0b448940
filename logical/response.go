package logical

import (
	"errors"
	"time"
)

// APIResponse is the envelope every HTTP response is wrapped in.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId,omitempty"`
}

// NewSuccessResponse builds a success envelope.
func NewSuccessResponse(data any, requestID string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// NewErrorResponse builds a failure envelope. Only the CodedError
// message is exposed; wrapped detail stays server side.
func NewErrorResponse(err error, requestID string) *APIResponse {
	msg := "Internal server error"
	var coded *CodedError
	if errors.As(err, &coded) {
		msg = coded.Message
	}
	return &APIResponse{
		Success:   false,
		Error:     msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}
