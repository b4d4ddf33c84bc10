package server_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/lambda-feedback/hotserve/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHttpServer_ServesHandlers(t *testing.T) {
	s := server.NewHttpServer(server.HttpServerParams{
		Config: server.HttpConfig{Host: "127.0.0.1", Port: 0},
		Handlers: []*server.HttpHandler{
			{Pattern: server.HealthPath, Handler: server.NewHealthHandler()},
		},
		Logger: zap.NewNop(),
	})

	require.NoError(t, s.Listen(context.Background()))

	go s.Serve()
	defer s.Shutdown(context.Background())

	res, err := http.Get(fmt.Sprintf("http://%s%s", s.Addr(), server.HealthPath))
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHttpServer_ServeWithoutListen(t *testing.T) {
	s := server.NewHttpServer(server.HttpServerParams{
		Config: server.HttpConfig{Host: "127.0.0.1"},
		Logger: zap.NewNop(),
	})

	assert.Error(t, s.Serve())
}
