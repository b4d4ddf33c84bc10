package host

import (
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"reflect"

	"github.com/lambda-feedback/hotserve/hot"
	"github.com/traefik/yaegi/interp"
)

const hotPackage = "github.com/lambda-feedback/hotserve/hot/hot"

// symbols returns the per-generation overrides layered on top of the
// interpreter's stdlib symbols.
func (h *Host) symbols() interp.Exports {
	return interp.Exports{
		"os/os": {
			"ReadFile": reflect.ValueOf(h.readFile),
			"Stat":     reflect.ValueOf(h.stat),
			"Exit":     reflect.ValueOf(h.exit),
		},
		"log/log": {
			"Fatal":   reflect.ValueOf(h.fatal),
			"Fatalf":  reflect.ValueOf(h.fatalf),
			"Fatalln": reflect.ValueOf(h.fatalln),
		},
		"net/net": {
			"Listen": reflect.ValueOf(h.Listen),
		},
		"net/http/http": {
			"ListenAndServe":  reflect.ValueOf(h.listenAndServe),
			"Serve":           reflect.ValueOf(h.serve),
			"Handle":          reflect.ValueOf(h.mux.Handle),
			"HandleFunc":      reflect.ValueOf(h.mux.HandleFunc),
			"DefaultServeMux": reflect.ValueOf(&h.mux).Elem(),

			"Server": reflect.ValueOf((*Server)(nil)),
		},
		hotPackage: {
			"Ready":         reflect.ValueOf(h.Ready),
			"Listen":        reflect.ValueOf(h.Listen),
			"Accept":        reflect.ValueOf(h.Accept),
			"ReadFileAsync": reflect.ValueOf(h.ReadFileAsync),

			"Update":     reflect.ValueOf((*hot.Update)(nil)),
			"AcceptFunc": reflect.ValueOf((*hot.AcceptFunc)(nil)),
		},
	}
}

func (h *Host) readFile(name string) ([]byte, error) {
	return h.shim.ReadFile(name)
}

func (h *Host) stat(name string) (fs.FileInfo, error) {
	return h.shim.Stat(name)
}

func (h *Host) listenAndServe(addr string, handler http.Handler) error {
	if addr == "" {
		addr = ":http"
	}

	l, err := h.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return h.serve(l, handler)
}

func (h *Host) serve(l net.Listener, handler http.Handler) error {
	if handler == nil {
		handler = h.mux
	}

	err := http.Serve(l, handler)
	if h.isClosing() {
		return http.ErrServerClosed
	}

	return err
}

func (h *Host) fatal(v ...any) {
	fmt.Fprint(h.stderr, v...)
	fmt.Fprintln(h.stderr)
	h.exit(1)
}

func (h *Host) fatalf(format string, v ...any) {
	fmt.Fprintf(h.stderr, format, v...)
	fmt.Fprintln(h.stderr)
	h.exit(1)
}

func (h *Host) fatalln(v ...any) {
	fmt.Fprintln(h.stderr, v...)
	h.exit(1)
}
