package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"evalplane/internal/logging"
)

const shutdownTimeout = 5 * time.Second

type apiServer struct {
	bind    string
	handler http.Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, handler http.Handler, logger *slog.Logger) *apiServer {
	return &apiServer{
		bind:    strings.TrimSpace(bind),
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "api-server"),
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// http.Server cannot be reused after Shutdown, so each start gets a fresh one.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownServer(server, s.logger)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listen"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if server != nil {
		shutdownServer(server, s.logger)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func shutdownServer(server *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
