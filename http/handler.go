package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stephnangue/bastion/audit"
	"github.com/stephnangue/bastion/core"
	"github.com/stephnangue/bastion/cryptoutil"
	"github.com/stephnangue/bastion/helper"
	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
)

const (
	headerCorrelationID = "X-Correlation-ID"

	// maxRequestBody bounds forwarded protocol bodies.
	maxRequestBody = 1 << 20
)

// HandlerProperties contains configuration for the HTTP handler.
type HandlerProperties struct {
	Core   *core.Core
	Logger log.Logger
}

// Handler builds the gateway's HTTP surface. Every route runs the same
// pipeline: correlation, authentication, then the core operation; the
// core decides authorization and quota.
func Handler(props *HandlerProperties) http.Handler {
	h := &handler{core: props.Core, logger: props.Logger.WithSubsystem("http")}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(h.correlate)
	r.Use(h.recoverPanic)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tenants/{tenantID}/servers/{serverID}", func(r chi.Router) {
			r.Post("/start", h.handleStart)
			r.Post("/stop", h.handleStop)
			r.Get("/status", h.handleStatus)
			r.Post("/mcp", h.handleMCP)
		})
		r.Get("/audit", h.handleAudit)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, &logical.CodedError{
			Status: http.StatusNotFound, Kind: logical.KindValidation, Message: "Not found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, &logical.CodedError{
			Status: http.StatusMethodNotAllowed, Kind: logical.KindValidation, Message: "Method not allowed",
		})
	})

	return r
}

type handler struct {
	core   *core.Core
	logger log.Logger
}

// requestID tags the request with a ULID used in the response
// envelope.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := logical.ContextWithRequestID(req.Context(), helper.GenerateRequestID())
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// correlate echoes the caller's correlation id, or mints one, so that
// audit entries and responses line up.
func (h *handler) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		cid := req.Header.Get(headerCorrelationID)
		if cid == "" {
			cid = cryptoutil.GenerateCorrelationID()
		}
		w.Header().Set(headerCorrelationID, cid)
		ctx := logical.ContextWithCorrelationID(req.Context(), cid)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// recoverPanic is the outer boundary: a panic becomes a generic 500
// and an audit entry with result "error". Detail stays out of the
// response.
func (h *handler) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic handling request",
					log.Any("panic", rec),
					log.String("path", req.URL.Path),
				)
				h.core.Recorder().RecordOutcome("unknown", "request", req.URL.Path, audit.ResultError,
					logical.CorrelationIDFromContext(req.Context()), nil)
				respondError(w, req, logical.ErrInternal("Internal server error"))
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func (h *handler) authenticate(req *http.Request) *logical.AuthResult {
	cid := logical.CorrelationIDFromContext(req.Context())
	return h.core.Authenticate(req.Context(), req.Header, cid)
}

func (h *handler) handleStart(w http.ResponseWriter, req *http.Request) {
	result := h.authenticate(req)
	status, err := h.core.StartServer(req.Context(), result,
		chi.URLParam(req, "tenantID"), chi.URLParam(req, "serverID"))
	if err != nil {
		respondError(w, req, err)
		return
	}
	respondOk(w, req, status)
}

func (h *handler) handleStop(w http.ResponseWriter, req *http.Request) {
	result := h.authenticate(req)
	status, err := h.core.StopServer(req.Context(), result,
		chi.URLParam(req, "tenantID"), chi.URLParam(req, "serverID"))
	if err != nil {
		respondError(w, req, err)
		return
	}
	respondOk(w, req, status)
}

func (h *handler) handleStatus(w http.ResponseWriter, req *http.Request) {
	result := h.authenticate(req)
	status, err := h.core.ServerStatus(req.Context(), result,
		chi.URLParam(req, "tenantID"), chi.URLParam(req, "serverID"))
	if err != nil {
		respondError(w, req, err)
		return
	}
	respondOk(w, req, status)
}

func (h *handler) handleMCP(w http.ResponseWriter, req *http.Request) {
	result := h.authenticate(req)

	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody+1))
	if err != nil {
		respondError(w, req, logical.ErrValidation("Unreadable request body"))
		return
	}
	if len(body) > maxRequestBody {
		respondError(w, req, logical.ErrValidation("Request body too large"))
		return
	}

	response, err := h.core.ForwardMCP(req.Context(), result,
		chi.URLParam(req, "tenantID"), chi.URLParam(req, "serverID"), body)
	if err != nil {
		respondError(w, req, err)
		return
	}

	// Protocol responses pass through verbatim, outside the envelope.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

func (h *handler) handleAudit(w http.ResponseWriter, req *http.Request) {
	result := h.authenticate(req)

	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, req, logical.ErrValidation("Invalid limit"))
			return
		}
		limit = parsed
	}

	entries, err := h.core.AuditTrail(req.Context(), result, limit)
	if err != nil {
		respondError(w, req, err)
		return
	}
	respondOk(w, req, map[string]any{"entries": entries, "count": len(entries)})
}
