package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-poker/internal/auth"
	"github.com/npezzotti/go-poker/internal/config"
	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/server"
)

type PokerApp struct {
	log            *log.Logger
	store          database.RoomStore
	guard          *auth.Guard
	ps             *server.PokerServer
	mux            *http.Server
	allowedOrigins []string
	started        time.Time
	now            func() time.Time
}

func NewPokerApp(mux *http.ServeMux, logger *log.Logger, ps *server.PokerServer, store database.RoomStore, guard *auth.Guard, cfg *config.Config) *PokerApp {
	s := &PokerApp{
		log:            logger,
		store:          store,
		guard:          guard,
		ps:             ps,
		allowedOrigins: cfg.AllowedOrigins,
		started:        time.Now(),
		now:            time.Now,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("GET /api/export/room/{roomId}", s.roomAccess(s.exportRoom))
	mux.HandleFunc("GET /api/room/{roomId}", s.roomAccess(s.getRoom))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.LoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *PokerApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *PokerApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
