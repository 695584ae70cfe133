// Package rpc serves a replay session over HTTP as JSON-RPC 2.0 so an agent
// running in another process can be benchmarked.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"replaybench/internal/bench"
	"replaybench/internal/protocol"
	"replaybench/internal/runner"
	"replaybench/internal/telemetry"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeEngineError    = -32000
)

const maxBodyBytes = 1 << 20

// Session is the replay the server drives.
type Session interface {
	Call(ctx context.Context, method string, params json.RawMessage) (any, error)
	State() protocol.State
	Finish(ctx context.Context) (*bench.Result, error)
}

var _ Session = (*runner.Session)(nil)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response carries either Result or Error, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server exposes one session over HTTP.
type Server struct {
	session Session
}

func NewServer(session Session) *Server {
	return &Server{session: session}
}

// Router mounts the RPC endpoint alongside state, finish, health and metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"replaybench"}`))
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Post("/a2a", s.handleRPC)
	r.Get("/state", s.handleState)
	r.Post("/finish", s.handleFinish)
	return r
}

// NewHTTPServer wraps the router with timeouts.
func NewHTTPServer(addr string, h http.Handler, read, write time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPC(w, Response{Error: &Error{Code: CodeParseError, Message: "reading body: " + err.Error()}})
		return
	}
	body = bytes.TrimSpace(body)
	if !gjson.ValidBytes(body) {
		writeRPC(w, Response{Error: &Error{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if !gjson.ParseBytes(body).IsObject() {
		writeRPC(w, Response{Error: &Error{Code: CodeInvalidRequest, Message: "request must be a single object"}})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, Response{Error: &Error{Code: CodeInvalidRequest, Message: err.Error()}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, Response{ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: `jsonrpc must be "2.0" and method is required`}})
		return
	}

	result, err := s.session.Call(r.Context(), req.Method, req.Params)
	if err != nil {
		slog.Debug("rpc call failed", "method", req.Method, "error", err)
		writeRPC(w, Response{ID: req.ID, Error: toError(err)})
		return
	}
	writeRPC(w, Response{ID: req.ID, Result: result})
}

func toError(err error) *Error {
	var me *protocol.MethodError
	switch {
	case errors.As(err, &me):
		return &Error{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, protocol.ErrInvalidParams):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: CodeEngineError, Message: err.Error()}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.Finish(r.Context())
	if err != nil {
		slog.Error("finishing session failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeRPC(w http.ResponseWriter, resp Response) {
	resp.JSONRPC = "2.0"
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
