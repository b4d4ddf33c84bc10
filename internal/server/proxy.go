package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/lambda-feedback/hotserve/internal/ipc"
	"go.uber.org/zap"
)

// Upstream is the readiness view of the supervisor the proxy forwards to.
type Upstream interface {
	Listening() bool
	Address() ipc.Address
	WaitListening(ctx context.Context) (ipc.Address, error)
}

// ProxyHandler forwards requests to the listening generation.
type ProxyHandler struct {
	upstream  Upstream
	config    ProxyConfig
	transport http.RoundTripper

	log *zap.Logger
}

func NewProxyHandler(upstream Upstream, config ProxyConfig, log *zap.Logger) *ProxyHandler {
	if config.Mode == "" {
		config.Mode = ProxyQueue
	}

	if config.QueueTimeout <= 0 {
		config.QueueTimeout = 30 * time.Second
	}

	return &ProxyHandler{
		upstream:  upstream,
		config:    config,
		transport: http.DefaultTransport,
		log:       log.Named("proxy"),
	}
}

func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr, ok := p.target(r)
	if !ok {
		p.refresh(w, r)
		return
	}

	target := &url.URL{Scheme: "http", Host: addr.String()}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			// the generation went away while the request was in flight
			if !p.upstream.Listening() {
				p.refresh(w, r)
				return
			}

			p.log.Warn("upstream request failed",
				zap.String("target", target.Host),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)

			w.WriteHeader(http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}

// target returns the address to forward r to. In queue mode it waits
// for the next listening generation.
func (p *ProxyHandler) target(r *http.Request) (ipc.Address, bool) {
	if p.upstream.Listening() {
		return p.upstream.Address(), true
	}

	if p.config.Mode != ProxyQueue {
		return ipc.Address{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.config.QueueTimeout)
	defer cancel()

	p.log.Debug("queueing request", zap.String("path", r.URL.Path))

	addr, err := p.upstream.WaitListening(ctx)
	if err != nil {
		return ipc.Address{}, false
	}

	return addr, true
}

// refresh asks the client to retry the request.
func (p *ProxyHandler) refresh(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", fmt.Sprintf("0 url=%s", r.URL.RequestURI()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}
