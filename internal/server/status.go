package server

import (
	"encoding/json"
	"net/http"

	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"go.uber.org/zap"
)

const (
	HealthPath = "/_hotserve/health"
	StatusPath = "/_hotserve/status"
	RPCPath    = "/_hotserve/rpc"
)

type StatusSource interface {
	Status() supervisor.Status
}

// NewHealthHandler reports that the supervisor process is up.
func NewHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, nil)
	})
}

// NewStatusHandler reports the state of the supervisor.
func NewStatusHandler(source StatusSource, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, source.Status(), log)
	})
}

func writeJSON(w http.ResponseWriter, v any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	if err := json.NewEncoder(w).Encode(v); err != nil && log != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}
