package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type HttpServerParams struct {
	fx.In

	Config HttpConfig

	Handlers []*HttpHandler `group:"handlers"`
	Logger   *zap.Logger
}

type HttpServer struct {
	addr   string
	server *http.Server

	mu       sync.Mutex
	listener net.Listener

	log *zap.Logger
}

func NewHttpServer(params HttpServerParams) *HttpServer {
	mux := http.NewServeMux()

	for _, handler := range params.Handlers {
		mux.Handle(handler.Pattern, handler.Handler)
	}

	var handler http.Handler = mux
	if params.Config.H2c {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}

	addr := net.JoinHostPort(params.Config.Host, fmt.Sprint(params.Config.Port))

	return &HttpServer{
		addr:   addr,
		server: &http.Server{Addr: addr, Handler: handler},
		log:    params.Logger.Named("server"),
	}
}

func NewLifecycleServer(params HttpServerParams, lc fx.Lifecycle) *HttpServer {
	server := NewHttpServer(params)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Listen(ctx); err != nil {
				return err
			}
			go server.Serve()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return server
}

// Listen binds the server address.
func (s *HttpServer) Listen(ctx context.Context) error {
	cfg := net.ListenConfig{}

	listener, err := cfg.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.log.With(zap.Error(err)).Error("failed to listen")
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.With(zap.String("address", listener.Addr().String())).Info("listening")

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *HttpServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve serves requests on the bound listener until Shutdown.
func (s *HttpServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return fmt.Errorf("server is not listening")
	}

	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		s.log.With(zap.Error(err)).Error("failed to serve")
		return err
	}

	return nil
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.With(zap.Error(err)).Error("failed to shutdown")
		return err
	}

	return nil
}
