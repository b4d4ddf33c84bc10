package conf

import (
	"context"
	"errors"
)

var ErrNoConfigInContext = errors.New("config not found in context")

// configKey is keyed by the config type, so that configs of different
// types can be carried by the same context.
type configKey[C any] struct{}

func GetConfigFromContext[C any](ctx context.Context) (C, error) {
	if config, ok := ctx.Value(configKey[C]{}).(C); ok {
		return config, nil
	}

	var c C
	return c, ErrNoConfigInContext
}

func ContextWithConfig[C any](ctx context.Context, config C) context.Context {
	return context.WithValue(ctx, configKey[C]{}, config)
}
