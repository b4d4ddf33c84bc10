package host

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
)

// active is the generation whose program is being evaluated. A worker
// hosts one generation at a time.
var active atomic.Pointer[Host]

// Server replaces http.Server for hosted programs. Listeners opened by
// its ListenAndServe methods are tracked by the active generation, so
// the struct literal idiom reports readiness like http.ListenAndServe.
// Values cannot be handed to binary code expecting an *http.Server.
type Server http.Server

func (s *Server) std() *http.Server {
	return (*http.Server)(s)
}

func (s *Server) ListenAndServe() error {
	h := active.Load()
	if h == nil {
		return s.std().ListenAndServe()
	}

	addr := s.Addr
	if addr == "" {
		addr = ":http"
	}

	l, err := h.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(l)
}

func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	h := active.Load()
	if h == nil {
		return s.std().ListenAndServeTLS(certFile, keyFile)
	}

	addr := s.Addr
	if addr == "" {
		addr = ":https"
	}

	l, err := h.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.ServeTLS(l, certFile, keyFile)
}

func (s *Server) Serve(l net.Listener) error {
	h := s.bind()

	err := s.std().Serve(l)
	if h != nil && h.isClosing() {
		return http.ErrServerClosed
	}

	return err
}

func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	h := s.bind()

	err := s.std().ServeTLS(l, certFile, keyFile)
	if h != nil && h.isClosing() {
		return http.ErrServerClosed
	}

	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.std().Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.std().Close()
}

func (s *Server) RegisterOnShutdown(f func()) {
	s.std().RegisterOnShutdown(f)
}

func (s *Server) SetKeepAlivesEnabled(v bool) {
	s.std().SetKeepAlivesEnabled(v)
}

// bind routes a nil handler to the generation's default mux.
func (s *Server) bind() *Host {
	h := active.Load()
	if h != nil && s.Handler == nil {
		s.Handler = h.mux
	}
	return h
}
