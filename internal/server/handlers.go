// Package server exposes HTTP handlers: the WebSocket chat endpoint, the
// health check, and the admin API that replaces the operator console.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

const maxAdminBodySize = 64 << 10

// Handler serves the HTTP surface of a relay.Server.
type Handler struct {
	relay    *relay.Server
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	origins  *originPolicy
	metrics  http.Handler
}

// NewHandler creates the HTTP handlers for srv. metrics may be nil, in which
// case /metrics is not routed.
func NewHandler(srv *relay.Server, cfg Config, logger *slog.Logger, metrics http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()
	logger = logger.With("component", "http")
	h := &Handler{
		relay:   srv,
		cfg:     cfg,
		logger:  logger,
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		metrics: metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.check,
	}
	return h
}

// WebSocket upgrades the request and attaches the connection to the relay
// as a new chat session.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.relay.Running() {
		http.Error(w, "Chat relay is stopped.", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if _, err := h.relay.Attach(newWSTransport(conn, r.RemoteAddr, h.cfg.MaxMessageSize)); err != nil {
		h.logger.Warn("WebSocket session rejected", "remote", r.RemoteAddr, "error", err)
	}
}

// Health provides a simple health check endpoint that returns server status.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	state := "stopped"
	if h.relay.Running() {
		state = "running"
	}
	_, _ = fmt.Fprintf(w, "Chat relay is %s, %d client(s) connected", state, h.relay.Count())
}

// Clients lists the connected sessions.
func (h *Handler) Clients(w http.ResponseWriter, _ *http.Request) {
	sessions := h.relay.Sessions()
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.Name)
	}
	h.writeJSON(w, http.StatusOK, ClientsResponse{
		Running:  h.relay.Running(),
		Count:    len(sessions),
		Names:    names,
		Sessions: sessions,
	})
}

// Broadcast sends an operator message to every session.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	report, err := h.relay.BroadcastAdmin(r.Context(), req.Text)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Send sends an operator message to one named session.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Target == "" || strings.TrimSpace(req.Text) == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("target and text are required"))
		return
	}

	if err := h.relay.SendAdmin(r.Context(), req.Target, req.Text); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "sent"})
}

// Start starts the TCP relay on the configured address.
func (h *Handler) Start(w http.ResponseWriter, _ *http.Request) {
	if err := h.relay.Start(h.cfg.TCPAddr); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "running"})
}

// Stop stops the relay and disconnects every session.
func (h *Handler) Stop(w http.ResponseWriter, _ *http.Request) {
	if err := h.relay.Stop(stopTimeout); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "stopped"})
}

func statusFor(err error) int {
	var bindErr *relay.BindError
	switch {
	case errors.Is(err, relay.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrPeerUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, relay.ErrServerStopped), errors.Is(err, relay.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &bindErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("error writing JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, StatusResponse{Status: "error", Error: err.Error()})
}
