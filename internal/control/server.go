package control

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// NewServer creates an rpc server serving the API of sup.
func NewServer(sup Supervisor, log *zap.Logger) (*rpc.Server, error) {
	srv := rpc.NewServer()

	if err := srv.RegisterName(Namespace, NewAPI(sup, log.Named("control"))); err != nil {
		srv.Stop()
		return nil, err
	}

	return srv, nil
}

// NewHandler serves srv over HTTP, upgrading websocket requests. Only
// websocket connections can subscribe to events.
func NewHandler(srv *rpc.Server, allowedOrigins []string) http.Handler {
	ws := srv.WebsocketHandler(allowedOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebsocket(r) {
			ws.ServeHTTP(w, r)
			return
		}
		srv.ServeHTTP(w, r)
	})
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
