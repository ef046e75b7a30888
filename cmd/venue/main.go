package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/waterfall-labs/waterfall/params"
	"github.com/waterfall-labs/waterfall/pkg/api"
	"github.com/waterfall-labs/waterfall/pkg/auth"
	"github.com/waterfall-labs/waterfall/pkg/exchange"
	"github.com/waterfall-labs/waterfall/pkg/storage"
	"github.com/waterfall-labs/waterfall/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Server.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile)

	// ---- Storage ----
	store, err := storage.Open(cfg.Server.DataDir + "/venue")
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Auth ----
	authMgr := auth.NewManager(cfg.Server.JWTSecret, cfg.Server.TokenTTL, store, sugar)

	// ---- Venue ----
	// The server is wired as the event sink after construction, so the venue
	// pointer is needed first; events before Start() go nowhere, which is fine.
	var server *api.Server
	venue, err := exchange.New(cfg, store, store, exchange.SinkFunc(func(ev exchange.Event) {
		if server != nil {
			server.Publish(ev)
		}
	}), util.RealClock{}, nil, sugar)
	if err != nil {
		sugar.Fatalw("venue_init_failed", "err", err)
	}

	server = api.NewServer(venue, authMgr, cfg, sugar)

	sugar.Infow("venue_starting",
		"assets", venue.Assets().Symbols(),
		"tick_interval", cfg.Pricing.TickInterval,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ---- Drift loop ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go venue.Run(ctx)

	// ---- HTTP ----
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.ListenAddr)
	}()

	// ---- Shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("shutdown_signal", "signal", sig.String())
	case err := <-errCh:
		sugar.Errorw("server_stopped", "err", err)
	}

	cancel()
	sugar.Infow("venue_stopped")
}
