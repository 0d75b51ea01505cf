// Package proxy implements server-side signing for clients that hold no
// credentials: a client posts {methodName, params} to a server that owns an
// API key, and the server invokes the method if it is on its allowlist.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anchorageoss/turnkey-sdk-go/activity"
	"github.com/anchorageoss/turnkey-sdk-go/api"
)

const (
	// SignPath is where the handler accepts server-sign requests.
	SignPath = "/sign"

	RequestIDHeader = "X-Request-Id"

	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

// Status codes of error bodies, following the gRPC code space.
const (
	codeInvalidArgument  = 3
	codeDeadlineExceeded = 4
	codePermissionDenied = 7
	codeFailedPrecond    = 9
	codeUnimplemented    = 12
	codeInternal         = 13
)

// Invoker dispatches a method by name. *api.Client implements it.
type Invoker interface {
	Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
}

// Request is the body of a server-sign call. Only the first element of
// Params is used as the method input.
type Request struct {
	MethodName string            `json:"methodName"`
	Params     []json.RawMessage `json:"params"`
}

// Status is the error body written for failed calls.
type Status struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details"`
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Invoker Invoker
	// AllowedMethods lists the method names clients may call.
	AllowedMethods []string
	Logger         *zap.Logger
}

// Handler serves server-sign requests.
type Handler struct {
	invoker Invoker
	allowed map[string]struct{}
	log     *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if len(cfg.AllowedMethods) == 0 {
		return nil, errors.New("at least one allowed method is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedMethods))
	for _, name := range cfg.AllowedMethods {
		allowed[name] = struct{}{}
	}
	return &Handler{invoker: cfg.Invoker, allowed: allowed, log: log}, nil
}

// Router returns the routes of the handler.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Post(SignPath, h.HandleSign)
	return r
}

// HandleSign invokes one allowlisted method.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, codeInvalidArgument, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeStatus(w, http.StatusRequestEntityTooLarge, codeInvalidArgument, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, codeInvalidArgument, "invalid request body: "+err.Error())
		return
	}
	if req.MethodName == "" {
		writeStatus(w, http.StatusBadRequest, codeInvalidArgument, "methodName is required")
		return
	}
	if _, ok := h.allowed[req.MethodName]; !ok {
		h.log.Warn("rejected method", zap.String("method", req.MethodName), zap.String("requestId", middleware.GetReqID(r.Context())))
		writeStatus(w, http.StatusForbidden, codePermissionDenied, "method "+req.MethodName+" is not allowed")
		return
	}

	var input json.RawMessage
	if len(req.Params) > 0 {
		input = req.Params[0]
	}

	out, err := h.invoker.Invoke(r.Context(), req.MethodName, input)
	if err != nil {
		h.log.Error("method failed",
			zap.String("method", req.MethodName),
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.Error(err))
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	w.Write(out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		reqErr      *api.RequestError
		terminalErr *activity.TerminalError
	)
	switch {
	case errors.As(err, &reqErr):
		status := reqErr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		msg := reqErr.Message
		if msg == "" {
			msg = reqErr.Error()
		}
		writeStatusDetails(w, status, Status{Code: reqErr.Code, Message: msg, Details: reqErr.Details})
	case errors.As(err, &terminalErr):
		writeStatus(w, http.StatusConflict, codeFailedPrecond, terminalErr.Error())
	case errors.Is(err, activity.ErrActivityTimeout):
		writeStatus(w, http.StatusGatewayTimeout, codeDeadlineExceeded, err.Error())
	case errors.Is(err, activity.ErrUnknownMethod):
		writeStatus(w, http.StatusNotImplemented, codeUnimplemented, err.Error())
	default:
		writeStatus(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}

// requestID keeps an inbound X-Request-Id or assigns a new UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeStatus(w http.ResponseWriter, status, code int, message string) {
	writeStatusDetails(w, status, Status{Code: code, Message: message})
}

func writeStatusDetails(w http.ResponseWriter, status int, s Status) {
	if s.Details == nil {
		s.Details = []json.RawMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(s)
}
