package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/imscscf/internal/banner"
	"github.com/sebas/imscscf/internal/config"
	"github.com/sebas/imscscf/internal/logger"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("S-CSCF", []banner.ConfigLine{
		{Label: "Home Domain", Value: cfg.HomeDomain},
		{Label: "Bind", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "HSS", Value: cfg.HSSBaseURL},
		{Label: "Chronos", Value: cfg.ChronosBaseURL},
		{Label: "Record-Routing", Value: string(cfg.RecordRoutingModel)},
		{Label: "Auth Enabled", Value: fmt.Sprintf("%t", cfg.AuthEnabled)},
	})

	srv, err := NewServer(cfg)
	if err != nil {
		slog.Error("failed to create s-cscf server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	run(srv, cfg)
}

func run(srv *Server, cfg *config.Config) {
	slog.Info("starting s-cscf",
		"port", cfg.Port,
		"home_domain", cfg.HomeDomain,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("s-cscf server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, shutting down", "signal", sig)
	cancel()

	time.Sleep(1 * time.Second)
}
