package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/shredctl/bridge"
)

// DefaultShutdownTimeout bounds how long Serve waits for in-flight
// requests after its context is cancelled.
const DefaultShutdownTimeout = 5 * time.Second

// Server is the control server wrapping a coordinator. It serves the
// Connect protocol with a CBOR codec.
type Server struct {
	coord *bridge.Coordinator
	subs  *SubscriptionStore
	mux   *http.ServeMux
	log   commonlog.Logger

	shutdownTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	log             commonlog.Logger
	buffer          int
	shutdownTimeout time.Duration
	handlerOpts     []connect.HandlerOption
}

// WithLogger sets the server logger.
func WithLogger(log commonlog.Logger) ServerOption {
	return func(c *serverConfig) { c.log = log }
}

// WithSubscriptionBuffer sets how many event messages a slow subscriber
// may have queued before firings are dropped.
func WithSubscriptionBuffer(n int) ServerOption {
	return func(c *serverConfig) { c.buffer = n }
}

// WithShutdownTimeout sets how long Serve waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.shutdownTimeout = d }
}

// WithHandlerOptions passes extra options to the Connect handlers.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handlerOpts = append(c.handlerOpts, opts...) }
}

// New creates a Server for coord.
func New(coord *bridge.Coordinator, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		buffer:          DefaultSubscriptionBuffer,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.log == nil {
		cfg.log = commonlog.GetLogger("shredctl.server")
	}

	s := &Server{
		coord:           coord,
		subs:            NewSubscriptionStore(coord.Events(), cfg.buffer, cfg.log),
		mux:             http.NewServeMux(),
		log:             cfg.log,
		shutdownTimeout: cfg.shutdownTimeout,
	}

	svc := NewControlService(coord, s.subs, cfg.log)
	path, handler := NewControlServiceHandler(svc, cfg.handlerOpts...)
	s.mux.Handle(path, handler)

	return s
}

// Handler returns the HTTP handler serving the control service.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Subscriptions returns the live event subscriptions.
func (s *Server) Subscriptions() *SubscriptionStore {
	return s.subs
}

// ListenAndServe listens on addr ("host:port" or ":port") and serves until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then stops the server and
// waits for in-flight requests. A clean shutdown returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("control server listening", "addr", ln.Addr().String(),
		"exec", "http://"+ln.Addr().String()+ControlServiceExecProcedure)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		s.Stop()
		return err
	case <-ctx.Done():
	}

	// Streams only end once their subscriptions are gone.
	s.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		<-errc
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("control server stopped")
	return nil
}

// Stop ends every subscription stream and removes its listener. The
// coordinator is left running.
func (s *Server) Stop() {
	if n := s.subs.Close(); n > 0 {
		s.log.Info("closed subscriptions", "count", n)
	}
}
