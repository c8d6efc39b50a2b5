package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gloudx/lexicaloro/cmdapi"
	"github.com/gloudx/lexicaloro/config"
	"github.com/gloudx/lexicaloro/hub"
	"github.com/gloudx/lexicaloro/logging"
	"github.com/gloudx/lexicaloro/registry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(slog.LevelInfo, nil)
	slog.SetDefault(logger)

	reg := registry.New(registry.Config{
		DocumentsPath:             cfg.DocumentsPath,
		AutosaveIntervalSec:       cfg.AutosaveIntervalSec,
		InitialLexicalState:       cfg.InitialLexicalState,
		MaxEphemeralEntriesPerDoc: cfg.MaxEphemeralEntriesPerDoc,
	}, logger)

	h := hub.New(reg, logger)
	cmdServer := cmdapi.New(reg, h, logger)

	mux := http.NewServeMux()
	cmdServer.Routes(mux)
	mux.Handle("/", h)

	server := &http.Server{
		Addr:    cfg.BindHost + ":" + portString(cfg.BindPort),
		Handler: logging.Middleware(logger)(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	autosaveInterval := time.Duration(cfg.AutosaveIntervalSec) * time.Second
	go reg.AutosaveLoop(ctx, autosaveInterval)

	pingInterval := time.Duration(cfg.ClientPingIntervalSec) * time.Second
	go h.RunLiveness(ctx, pingInterval)
	go h.RunStatsLogger(ctx, 60*time.Second)

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	reg.Shutdown()
	logger.Info("shutdown complete")
}

func portString(port int) string {
	if port <= 0 {
		return "8080"
	}
	return strconv.Itoa(port)
}
