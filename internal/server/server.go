package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatus/internal/chat"

	"go.uber.org/zap"
)

// shutdownTimeout bounds closing of sessions and idle connections
const shutdownTimeout = 15 * time.Second

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	h             *handler
	afterShutdown []func()
}

// NewServer returns new Server struct with provided zap.SugaredLogger and chat.Backend
// every browser session gets its own chat.Client backed by backend
func NewServer(logger *zap.SugaredLogger, backend chat.Backend, opts ...Option) (*Server, error) {
	h := newHandler(logger, backend)

	cfg := &config{
		httpServer:   &http.Server{},
		maxBodyBytes: bodyLimit(chat.DefaultConfig().ImageMaxBytes),
		handlers: map[string]http.Handler{
			"/session/login":        http.HandlerFunc(h.login),
			"/session/logout":       http.HandlerFunc(h.logout),
			"/compose/text":         http.HandlerFunc(h.composeText),
			"/compose/image":        http.HandlerFunc(h.composeImage),
			"/compose/image/clear":  http.HandlerFunc(h.composeImageClear),
			"/compose/reply":        http.HandlerFunc(h.composeReply),
			"/compose/reply/cancel": http.HandlerFunc(h.composeReplyCancel),
			"/compose/submit":       http.HandlerFunc(h.composeSubmit),
			"/messages/like":        h.messageActionHandler((*chat.Client).Like),
			"/messages/unlike":      h.messageActionHandler((*chat.Client).Unlike),
			"/messages/like/toggle": h.messageActionHandler((*chat.Client).ToggleLike),
			"/messages/edit":        http.HandlerFunc(h.editMessage),
			"/messages/delete":      h.messageActionHandler((*chat.Client).Delete),
			"/feed/viewport":        http.HandlerFunc(h.viewport),
		},
		streams: map[string]http.Handler{
			"/feed/ws": http.HandlerFunc(h.feedWS),
		},
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	applyEnforcePostJson().apply(cfg)
	applyLog(logger.Desugar()).apply(cfg)
	registerHandlers().apply(cfg)

	h.chatOpts = cfg.chatOpts

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		h:             h,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root http.Handler, useful for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.Shutdown()

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}

// Shutdown stops accepting requests, then logs out every session so typing flags are cleared
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("srv.Shutdown: %v", err)
	}
	s.logger.Info("HTTP server is stopped")

	s.logger.Info("Closing sessions")
	s.h.closeSessions(ctx)
	s.logger.Info("Sessions are closed")
}
