// Package server exposes the chat backend: streaming and non-streaming
// generation plus the append/list message store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comigor/jarvis-chat/internal/agent"
	"github.com/comigor/jarvis-chat/internal/auth"
	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/history"
	"github.com/comigor/jarvis-chat/internal/llm"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/message"
	"github.com/comigor/jarvis-chat/internal/stream"
)

const maxBodyBytes = 1 << 20

// Generator produces assistant replies.
type Generator interface {
	Complete(ctx context.Context, req agent.Request) (string, error)
	Stream(ctx context.Context, req agent.Request) (llm.Stream, error)
}

// Server wires the HTTP API to a Generator and a message Repository.
type Server struct {
	gen      Generator
	repo     history.Repository
	limiter  *limiterPool
	metrics  *metrics
	registry *prometheus.Registry
	secret   string
}

// New creates a server. Rate limits and the JWT secret come from cfg.
func New(gen Generator, repo history.Repository, cfg config.Config) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		gen:      gen,
		repo:     repo,
		limiter:  newLimiterPool(cfg.Server.RateLimit, cfg.Server.RateBurst),
		metrics:  newMetrics(reg),
		registry: reg,
		secret:   cfg.Auth.JWTSecret,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		api.Handle(pattern, s.instrument(pattern, h))
	}
	route("POST /api/chat/stream", s.handleStream)
	route("POST /api/chat", s.handleComplete)
	route("POST /api/conversations/{id}/messages", s.handleAppend)
	route("GET /api/conversations/{id}/messages", s.handleList)

	mux := http.NewServeMux()
	mux.Handle("/api/", auth.Middleware(s.secret)(api))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := logger.L.With("conversation", req.ConversationID)

	prior, err := s.repo.List(ctx, req.ConversationID)
	if err != nil {
		log.Error("list history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch chat history")
		return
	}

	upstream, err := s.gen.Stream(ctx, agentRequest(req, prior))
	if err != nil {
		log.Error("provider stream failed", "error", err)
		s.metrics.streams.WithLabelValues("failed").Inc()
		writeError(w, http.StatusBadGateway, "failed to reach the AI provider")
		return
	}
	defer upstream.Close()

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := stream.NewWriter(w)
	if err := out.Connected(); err != nil {
		return
	}
	flush()

	var full []byte
	for {
		tok, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("client went away mid-stream", "received", len(full))
				s.metrics.streams.WithLabelValues("cancelled").Inc()
				return
			}
			log.Error("provider stream broke", "error", err, "received", len(full))
			s.metrics.streams.WithLabelValues("failed").Inc()
			// Abort without the terminating chunk so the client sees a
			// transport error rather than an implicit completion.
			panic(http.ErrAbortHandler)
		}
		full = append(full, tok...)
		if err := out.Token(tok); err != nil {
			s.metrics.streams.WithLabelValues("cancelled").Inc()
			return
		}
		s.metrics.tokens.Inc()
		flush()
	}

	response := string(full)
	if ctx.Err() != nil {
		// The client stopped and saves the partial reply itself.
		log.Info("client went away before completion", "received", len(full))
		s.metrics.streams.WithLabelValues("cancelled").Inc()
		return
	}
	if _, err := s.repo.Append(ctx, req.ConversationID, message.RoleAssistant, response); err != nil {
		log.Error("failed to save assistant response", "error", err)
	}
	if err := out.Done(response); err != nil {
		log.Warn("failed to write completion", "error", err)
	}
	flush()
	s.metrics.streams.WithLabelValues("done").Inc()
	log.Info("response completed", "chars", len(response))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := logger.L.With("conversation", req.ConversationID)

	prior, err := s.repo.List(ctx, req.ConversationID)
	if err != nil {
		log.Error("list history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch chat history")
		return
	}

	response, err := s.gen.Complete(ctx, agentRequest(req, prior))
	if err != nil {
		log.Error("provider completion failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to reach the AI provider")
		return
	}
	if _, err := s.repo.Append(ctx, req.ConversationID, message.RoleAssistant, response); err != nil {
		log.Error("failed to save assistant response", "error", err)
	}
	writeJSON(w, http.StatusOK, message.ChatResponse{Response: response})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	var body message.AppendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !body.Role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if !s.limiter.Allow(conversationID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	rec, err := s.repo.Append(r.Context(), conversationID, body.Role, body.Content)
	if err != nil {
		logger.L.Error("append failed", "conversation", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	recs, err := s.repo.List(r.Context(), conversationID)
	if err != nil {
		logger.L.Error("list failed", "conversation", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// chatRequest decodes and validates a generation request, writing the error
// response itself when it returns false.
func (s *Server) chatRequest(w http.ResponseWriter, r *http.Request) (message.ChatRequest, bool) {
	var req message.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.ConversationID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and message are required")
		return req, false
	}
	if !s.limiter.Allow(req.ConversationID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return req, false
	}
	if req.VoiceProfileID != "" {
		logger.L.Debug("voice profile requested", "conversation", req.ConversationID, "voice_profile", req.VoiceProfileID)
	}
	return req, true
}

// agentRequest builds the provider input. The user message may already be
// stored by the client's own append call; it is dropped from the history so
// the provider does not see it twice.
func agentRequest(req message.ChatRequest, prior []message.Record) agent.Request {
	if n := len(prior); n > 0 && prior[n-1].Role == message.RoleUser && prior[n-1].Content == req.Message {
		prior = prior[:n-1]
	}
	return agent.Request{
		History:        prior,
		Message:        req.Message,
		Model:          req.Model,
		VoiceProfileID: req.VoiceProfileID,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, message.ErrorResponse{Error: msg})
}

// statusRecorder captures the response code while still letting streaming
// handlers flush.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		}()
		next.ServeHTTP(rec, r)
	})
}
