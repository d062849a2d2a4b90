// Package server exposes the engine over HTTP: the messaging webhook, the
// internal chat endpoint, magic-link redemption and the operator endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"sgi/pkg/channel/whatsapp"
	"sgi/pkg/config"
	"sgi/pkg/logx"
	"sgi/pkg/magiclink"
	"sgi/pkg/metrics"
	"sgi/pkg/proto"
	"sgi/pkg/version"
)

const maxBodyBytes = 1 << 20

// Turner answers one conversational turn.
type Turner interface {
	HandleTurn(ctx context.Context, in *proto.Inbound) proto.Outbound
}

// Sender delivers a reply on the messaging channel.
type Sender interface {
	Send(ctx context.Context, to string, out proto.Outbound) error
}

// MediaResolver turns a platform media id into a download URL.
type MediaResolver interface {
	MediaInfo(ctx context.Context, mediaID string) (url, mimeType string, err error)
}

// LinkValidator validates magic-link tokens.
type LinkValidator interface {
	Validate(ctx context.Context, token string) magiclink.Validation
}

// Deps are the collaborators of the server. Sender and Media are only
// needed when the messaging channel is enabled; Gatherer enables /metrics.
type Deps struct {
	Turns    Turner
	Links    LinkValidator
	Sender   Sender
	Media    MediaResolver
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP surface.
type Server struct {
	Deps
	cfg    *config.Config
	logger *logx.Logger

	// webhook turns still in flight
	inflight sync.WaitGroup
	// turnTimeout bounds a webhook turn including delivery
	turnTimeout time.Duration
}

// New creates a server.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Turns == nil || deps.Links == nil {
		return nil, errors.New("server needs an orchestrator and a link validator")
	}
	if cfg.WhatsApp.Enabled && deps.Sender == nil {
		return nil, errors.New("whatsapp is enabled but no sender is configured")
	}
	timeout := cfg.Orchestrator.TurnTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		Deps:        deps,
		cfg:         cfg,
		logger:      logx.NewLogger("server"),
		turnTimeout: timeout + cfg.WhatsApp.Timeout,
	}, nil
}

// RegisterRoutes sets up HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if s.cfg.WhatsApp.Enabled {
		mux.HandleFunc("GET /webhook", s.handleWebhookVerify)
		mux.HandleFunc("POST /webhook", s.handleWebhook)
	}
	mux.HandleFunc("POST /api/chat", s.requireToken(s.handleChat))
	mux.HandleFunc("GET /l/{token}", s.handleRedeem)
	mux.HandleFunc("GET /api/links/{token}", s.handleLinkInfo)
	mux.HandleFunc("GET /api/healthz", s.handleHealth)
	mux.HandleFunc("GET /api/logs", s.requireToken(s.handleLogs))
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.Gatherer))
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Run serves until ctx is cancelled, then shuts down and waits for webhook
// turns still in flight.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s (%s)", srv.Addr, version.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	//nolint:contextcheck // parent context is cancelled; shutdown needs a fresh one
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed: %v", err)
	}
	s.Drain(shutdownCtx)
	return nil
}

// Drain waits for in-flight webhook turns or ctx expiry.
func (s *Server) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("gave up waiting for in-flight turns: %v", ctx.Err())
	}
}

// requireToken enforces the bearer token of the internal API.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := s.cfg.ChatAPI.Token
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if expected == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			s.logger.Warn("rejected unauthenticated %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="sgi"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handleWebhookVerify implements GET /webhook.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := whatsapp.Verify(r.URL.Query(), s.cfg.WhatsApp.VerifyToken)
	if !ok {
		s.logger.Warn("webhook verification refused")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, challenge)
}

// handleWebhook implements POST /webhook. Messages are acknowledged at once
// and answered asynchronously.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if !whatsapp.VerifySignature(body, r.Header.Get(whatsapp.SignatureHeader), s.cfg.WhatsApp.AppSecret) {
		s.logger.Warn("webhook signature mismatch from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	msgs, err := whatsapp.Parse(body)
	if err != nil {
		s.logger.Warn("unparseable webhook: %v", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	for _, batch := range bySender(msgs) {
		s.inflight.Add(1)
		go func(batch []*proto.Inbound) {
			defer s.inflight.Done()
			for _, in := range batch {
				s.answer(in)
			}
		}(batch)
	}
	w.WriteHeader(http.StatusOK)
}

// bySender groups msgs per identity, keeping arrival order within a group.
func bySender(msgs []*proto.Inbound) [][]*proto.Inbound {
	index := make(map[string]int)
	var batches [][]*proto.Inbound
	for _, in := range msgs {
		i, ok := index[in.Identity]
		if !ok {
			i = len(batches)
			index[in.Identity] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], in)
	}
	return batches
}

// answer runs one webhook turn and delivers the reply.
func (s *Server) answer(in *proto.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	defer cancel()
	logger := s.logger.WithIdentity(in.Identity)

	if in.Media != nil && in.Media.URL == "" && s.Media != nil {
		u, mime, err := s.Media.MediaInfo(ctx, in.Media.ID)
		if err != nil {
			logger.Warn("media lookup failed, keeping the id only: %v", err)
		} else {
			in.Media.URL = u
			if in.Media.MimeType == "" {
				in.Media.MimeType = mime
			}
		}
	}

	out := s.Turns.HandleTurn(ctx, in)
	if out.Duplicate {
		return
	}
	if err := s.Sender.Send(ctx, in.Identity, out); err != nil {
		logger.Error("failed to deliver reply: %v", err)
	}
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string       `json:"message"`
	History []proto.Turn `json:"history"`
	User    string       `json:"user,omitempty"`
}

// ChatResponse is the reply of POST /api/chat.
type ChatResponse struct {
	Response    string             `json:"response"`
	Data        any                `json:"data,omitempty"`
	Action      string             `json:"action,omitempty"`
	MagicLink   string             `json:"magicLink,omitempty"`
	Interactive *proto.Interactive `json:"interactive,omitempty"`
}

// handleChat implements POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	// Callers that do not name a user get a conversation of their own.
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = "anon-" + uuid.NewString()
	}
	history := req.History
	if history == nil {
		history = []proto.Turn{}
	}

	out := s.Turns.HandleTurn(r.Context(), &proto.Inbound{
		Channel:    proto.ChannelChatAPI,
		Identity:   "api:" + user,
		Text:       req.Message,
		History:    history,
		ReceivedAt: time.Now(),
	})
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:    out.Text,
		Data:        out.Data,
		Action:      out.Action,
		MagicLink:   out.MagicLink,
		Interactive: out.Interactive,
	})
}

// handleRedeem implements GET /l/{token}: a redirect to the dashboard view,
// or to its error page.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	v := s.Links.Validate(r.Context(), r.PathValue("token"))
	dashboard := s.cfg.DashboardBase()
	if !v.Valid {
		logx.Debug(r.Context(), "server", "refused magic link: %s", v.Reason)
		http.Redirect(w, r, magiclink.ErrorURL(dashboard, v.Reason), http.StatusFound)
		return
	}
	http.Redirect(w, r, magiclink.Resolve(v, dashboard), http.StatusFound)
}

// handleLinkInfo implements GET /api/links/{token}.
func (s *Server) handleLinkInfo(w http.ResponseWriter, r *http.Request) {
	v := s.Links.Validate(r.Context(), r.PathValue("token"))
	status := http.StatusOK
	switch v.Reason {
	case magiclink.ReasonMalformed:
		status = http.StatusBadRequest
	case magiclink.ReasonExpired:
		status = http.StatusGone
	case magiclink.ReasonUnknown:
		status = http.StatusNotFound
	}
	writeJSON(w, status, v)
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// handleLogs implements GET /api/logs?component=&since=RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		var err error
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter (use RFC3339)")
			return
		}
	}
	logs := logx.GetRecentLogEntries(query.Get("component"), since)
	if logs == nil {
		logs = []logx.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.NewLogger("server").Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
