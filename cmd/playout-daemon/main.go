// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// playout-daemon is the entrypoint for the 24/7 linear broadcast engine
// (spec §1): it loads one PlayoutConfig per configured channel, starts a
// ChannelManager, and serves Prometheus metrics until signaled to stop.
// Structure (flag parsing, signal.NotifyContext, Configure-then-Fatal
// logging, promhttp metrics server) is adapted from cmd/daemon/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	xglog "github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/bus"
	"github.com/ManuGH/xg2g/internal/playout/channel"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/logsink"
	"github.com/ManuGH/xg2g/internal/playout/mail"
	"github.com/ManuGH/xg2g/internal/playout/source"
	"github.com/ManuGH/xg2g/internal/playout/status"
	"github.com/ManuGH/xg2g/internal/playout/supervisor"
	"github.com/ManuGH/xg2g/internal/playout/telemetry"
	"github.com/ManuGH/xg2g/internal/playout/textoverlay"
	"github.com/rs/zerolog"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	channelsFlag := flag.String("channels", "", "comma-separated list of channel ids (overrides PLAYOUT_CHANNELS)")
	metricsAddr := flag.String("metrics-addr", ":9091", "Prometheus metrics listen address")
	statusBackend := flag.String("status-backend", "sqlite", "status store backend: memory, bolt or sqlite")
	statusDir := flag.String("status-dir", "/tmp/playout-status", "directory for the bolt/sqlite status store")
	logDir := flag.String("log-dir", "/var/log/playout", "directory for per-channel daily log files")
	smtpAddr := flag.String("smtp-addr", os.Getenv("PLAYOUT_SMTP_ADDR"), "SMTP host:port for mail digests")
	smtpFrom := flag.String("smtp-from", os.Getenv("PLAYOUT_SMTP_FROM"), "envelope sender for mail digests")
	otelEnabled := flag.Bool("otel-enabled", os.Getenv("PLAYOUT_OTEL_ENABLED") == "true", "export clip spans via OTLP/gRPC")
	otelEndpoint := flag.String("otel-endpoint", os.Getenv("PLAYOUT_OTEL_ENDPOINT"), "OTLP/gRPC collector address")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "playout-daemon", Version: version})
	logger := xglog.WithComponent("playout.main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channelIDs := resolveChannelIDs(*channelsFlag)
	if len(channelIDs) == 0 {
		logger.Fatal().Msg("no channels configured; set PLAYOUT_CHANNELS or --channels")
	}

	statusDB, err := status.NewStore(*statusBackend, *statusDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open status store")
	}
	defer statusDB.Close()

	tracerProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      *otelEnabled,
		ServiceName:  "playout-daemon",
		Endpoint:     *otelEndpoint,
		SamplingRate: 1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start tracer provider")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer provider shutdown failed")
		}
	}()

	eventBus := bus.NewMemoryBus()
	textCtl := textoverlay.NewController()
	logSink := logsink.NewSink(*logDir, 7, nil)
	defer logSink.Close()
	smtpAuth := smtpAuthFromEnv(*smtpAddr)

	mgr := channel.NewManager(statusDB)
	mgr.NewSupervisor = func(cfg *config.PlayoutConfig, it source.Iterator) (channel.Supervisor, error) {
		return supervisor.New(cfg, it,
			supervisor.WithBus(eventBus),
			supervisor.WithTextOverlay(textCtl),
		), nil
	}

	for _, id := range channelIDs {
		loader := config.NewLoader(id)
		cfg, err := loader.Load()
		if err != nil {
			logger.Fatal().Err(err).Str("channel", id).Msg("failed to load channel configuration")
		}
		if err := mgr.StartChannel(ctx, &cfg); err != nil {
			logger.Fatal().Err(err).Str("channel", id).Msg("failed to start channel")
		}

		go func(channelID string) {
			if err := logSink.Run(ctx, eventBus, channelID); err != nil && err != context.Canceled {
				logger.Error().Err(err).Str("channel", channelID).Msg("log sink stopped")
			}
		}(cfg.General.ChannelID)

		mailQueue := mail.New(cfg.Mail, eventBus, cfg.General.ChannelID, *smtpAddr, *smtpFrom, smtpAuth)
		go func(channelID string) {
			if err := mailQueue.Run(ctx); err != nil && err != context.Canceled {
				logger.Error().Err(err).Str("channel", channelID).Msg("mail queue stopped")
			}
		}(cfg.General.ChannelID)

		logger.Info().Str("channel", id).Msg("channel started")
	}

	mux := http.NewServeMux()
	if textPath := textOverlayPathFromEnv(); textPath != "" {
		mux.Handle(textPath, textCtl)
	}
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go serveUntilShutdown(ctx, srv, logger)

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, stopping all channels")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.StopAll(stopCtx); err != nil {
		logger.Error().Err(err).Msg("errors while stopping channels")
	}
	logger.Info().Msg("playout-daemon exiting")
}

func resolveChannelIDs(flagValue string) []string {
	raw := flagValue
	if raw == "" {
		raw = os.Getenv("PLAYOUT_CHANNELS")
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func textOverlayPathFromEnv() string {
	return strings.TrimSpace(os.Getenv("PLAYOUT_TEXTOVERLAY_PATH"))
}

// smtpAuthFromEnv builds PLAIN auth from PLAYOUT_SMTP_USER/PLAYOUT_SMTP_PASSWORD
// when both are set, matching mail.Queue's smtp.Auth parameter. Digests are
// sent unauthenticated (nil auth) when either is missing.
func smtpAuthFromEnv(addr string) smtp.Auth {
	user := os.Getenv("PLAYOUT_SMTP_USER")
	pass := os.Getenv("PLAYOUT_SMTP_PASSWORD")
	if user == "" || pass == "" {
		return nil
	}
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		host = addr[:idx]
	}
	return smtp.PlainAuth("", user, pass, host)
}

func serveUntilShutdown(ctx context.Context, srv *http.Server, logger zerolog.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
	}
}
