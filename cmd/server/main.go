package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-poker/internal/api"
	"github.com/npezzotti/go-poker/internal/auth"
	"github.com/npezzotti/go-poker/internal/config"
	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/poker"
	"github.com/npezzotti/go-poker/internal/server"
	"github.com/npezzotti/go-poker/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	logger := log.New(os.Stderr, "[go-poker] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config:", err)
	}

	var allowedOrigins stringSliceFlag
	flag.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "server address")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "room store: memory, postgres or sqlite")
	flag.StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "postgres connection string")
	flag.StringVar(&cfg.SqlitePath, "sqlite-path", cfg.SqlitePath, "sqlite database file")
	flag.StringVar(&cfg.SigningSecret, "signing-key", cfg.SigningSecret, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&cfg.DisconnectGrace, "disconnect-grace", cfg.DisconnectGrace, "time before a user without connections is marked disconnected")
	flag.Parse()

	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}
	if cfg.SigningSecret == "" {
		logger.Println("no signing key configured, using the built-in development key")
		cfg.SigningSecret = defaultSigningKey
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	store, err := database.Open(cfg.Store, cfg.StoreDSN())
	if err != nil {
		logger.Fatal("store open:", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	tokens := auth.NewTokenService(cfg.SigningKey, cfg.TokenTTL)
	processor := poker.NewProcessor(logger, store, tokens)

	// no connection survives a restart
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	n, err := processor.DisconnectAll(startupCtx)
	cancelStartup()
	if err != nil {
		logger.Println("disconnect users:", err)
	} else if n > 0 {
		logger.Printf("marked %d users disconnected\n", n)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	pokerServer := server.NewPokerServer(logger, processor, statsUpdater, server.Options{
		DisconnectGrace: cfg.DisconnectGrace,
		StoreTimeout:    cfg.StoreTimeout,
	})

	srv := api.NewPokerApp(mux, logger, pokerServer, store, auth.NewGuard(store, tokens), cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go pokerServer.Run()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go pokerServer.RunJanitor(janitorCtx, processor, cfg.SweepInterval, poker.SweepConfig{
		MarkAfter:   cfg.RoomMarkAfter,
		DeleteAfter: cfg.RoomDeleteAfter,
		UserExpiry:  cfg.UserExpiry,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	stopJanitor()

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down poker server...")
	if err := pokerServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("poker server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
