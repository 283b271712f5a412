// SPDX-License-Identifier: MPL-2.0

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/failure"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Compile-time interface check
var _ Operations = (*app.Service)(nil)

type (
	// Operations is the service surface served over HTTP.
	Operations interface {
		GenerateIssue(ctx context.Context, req app.GenerateRequest) (app.GenerateResult, error)
		ExecuteCommand(ctx context.Context, sessionID, line string) (app.ExecuteResult, error)
		VerifySolution(ctx context.Context, sessionID string) (app.VerifyResult, error)
		GetHint(ctx context.Context, sessionID string) (app.HintResult, error)
		Session(ctx context.Context, sessionID string) (app.SessionInfo, error)
		EndSession(ctx context.Context, sessionID string) error
		Processes(ctx context.Context, sessionID, name string) (app.ProcessResult, error)
		StartProcess(ctx context.Context, sessionID, command string) (app.ProcessResult, error)
	}

	// sessionRequest is the body shared by the session-scoped endpoints.
	// sessionId is accepted for older clients.
	sessionRequest struct {
		SessionID       string `json:"session_id"`
		LegacySessionID string `json:"sessionId"`
		Command         string `json:"command"`
	}

	handler struct {
		ops      Operations
		upgrader websocket.Upgrader
		logger   *slog.Logger

		mu        sync.Mutex
		terminals map[*websocket.Conn]struct{}
	}
)

func (r sessionRequest) id() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.LegacySessionID
}

// NewHandler returns the API router wrapped in CORS, request logging and
// panic recovery. An empty allowedOrigins list allows every origin.
func NewHandler(ops Operations, allowedOrigins []string) http.Handler {
	_, root := newHandler(ops, allowedOrigins)
	return root
}

func newHandler(ops Operations, allowedOrigins []string) (*handler, http.Handler) {
	h := &handler{
		ops:       ops,
		logger:    slog.Default().With("component", "httpapi"),
		terminals: make(map[*websocket.Conn]struct{}),
	}
	c := corsFor(allowedOrigins)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || c.OriginAllowed(r)
		},
	}

	r := mux.NewRouter()
	r.Use(h.recoverer, h.requestLogger)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/generate-issue", h.generateIssue).Methods(http.MethodPost)
	api.HandleFunc("/execute-command", h.executeCommand).Methods(http.MethodPost)
	api.HandleFunc("/verify-solution", h.verifySolution).Methods(http.MethodPost)
	api.HandleFunc("/get-hint", h.getHint).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.endSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/processes", h.processes).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/processes", h.startProcess).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/terminal", h.terminal).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, failure.NotFound("route", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, failure.InvalidInput(req.Method+" "+req.URL.Path, "method not allowed"))
	})

	return h, c.Handler(r)
}

func corsFor(allowedOrigins []string) *cors.Cors {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"})
}

func (h *handler) generateIssue(w http.ResponseWriter, r *http.Request) {
	var req app.GenerateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ops.GenerateIssue(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) executeCommand(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ops.ExecuteCommand(r.Context(), req.id(), req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) verifySolution(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ops.VerifySolution(r.Context(), req.id())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) getHint(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ops.GetHint(r.Context(), req.id())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.ops.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ops.EndSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// processes lists the environment's processes. The optional name query
// parameter is checked against the list.
func (h *handler) processes(w http.ResponseWriter, r *http.Request) {
	res, err := h.ops.Processes(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *handler) startProcess(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ops.StartProcess(r.Context(), mux.Vars(r)["id"], req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

// terminal upgrades to a websocket. Each text frame is executed as one
// command line; the reply is its output, or the failure envelope as JSON
// text when the service rejects the command.
func (h *handler) terminal(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if _, err := h.ops.Session(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		h.logger.Debug("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	h.track(conn)
	defer h.untrack(conn)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("terminal closed", "session", sessionID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		reply := h.runTerminalLine(r.Context(), sessionID, string(data))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			h.logger.Debug("terminal write failed", "session", sessionID, "error", err)
			return
		}
	}
}

func (h *handler) track(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminals[conn] = struct{}{}
}

func (h *handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.terminals, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// closeTerminals sends a going-away frame to every open terminal and
// closes it. http.Server.Shutdown does not track hijacked connections.
func (h *handler) closeTerminals() {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for conn := range h.terminals {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (h *handler) runTerminalLine(ctx context.Context, sessionID, line string) string {
	res, err := h.ops.ExecuteCommand(ctx, sessionID, line)
	if err == nil {
		return res.Output
	}
	kind := failure.KindOf(err)
	raw, _ := json.Marshal(errorBody{Error: err.Error(), Kind: kind})
	return string(raw)
}

// decodeBody reads a JSON object from the request body. An empty body
// decodes as the zero value.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return failure.InvalidInput("decode request", "malformed JSON body: "+err.Error())
	}
	return nil
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack passes the connection through for websocket upgrades.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

func (h *handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				h.logger.Error("handler panic", "path", r.URL.Path, "panic", p, "stack", string(debug.Stack()))
				writeError(w, failure.New(failure.KindInternal, "handle request", r.URL.Path))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
