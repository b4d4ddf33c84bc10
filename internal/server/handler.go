package server

import (
	"net/http"

	"go.uber.org/fx"
)

// HttpHandler is a handler mounted on the server mux under Pattern.
type HttpHandler struct {
	Pattern string
	Handler http.Handler
}

type HttpHandlerResult struct {
	fx.Out

	Handler *HttpHandler `group:"handlers"`
}

// AsHttpHandler provides handler to the server's handler group.
func AsHttpHandler(pattern string, handler http.Handler) HttpHandlerResult {
	return HttpHandlerResult{
		Handler: &HttpHandler{
			Pattern: pattern,
			Handler: handler,
		},
	}
}
