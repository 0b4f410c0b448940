package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/stephnangue/bastion/logical"
)

// respondOk writes the success envelope.
func respondOk(w http.ResponseWriter, req *http.Request, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(logical.NewSuccessResponse(data, logical.RequestIDFromContext(req.Context())))
}

// respondError maps the error to its HTTP status and writes the
// failure envelope. Rate-limited and retryable-instance failures carry
// a Retry-After header.
func respondError(w http.ResponseWriter, req *http.Request, err error) {
	status := logical.GetErrorCode(err)

	var coded *logical.CodedError
	if errors.As(err, &coded) && coded.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(coded.RetryAfter))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(logical.NewErrorResponse(err, logical.RequestIDFromContext(req.Context())))
}
