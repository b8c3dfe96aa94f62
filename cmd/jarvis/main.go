package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/jarvis-chat/internal/agent"
	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/history"
	"github.com/comigor/jarvis-chat/internal/llm"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if err := cfg.ValidateServer(); err != nil {
		logger.L.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Provider and agent; MCP servers contribute to the system prompt
	provider := llm.NewOpenAI(llm.NewClient(cfg.LLM))
	a := agent.New(provider, *cfg)
	defer a.Close()

	store := history.New(cfg.History.DBPath)
	defer store.Close()
	repo := history.WithCache(store, history.NewRedis(cfg.Redis), cfg.Redis.TTL)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.New(a, repo, *cfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.L.Warn("shutdown did not complete", "error", err)
		}
	}()

	logger.L.Info("starting server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}
