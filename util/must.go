package util

import "fmt"

// Must returns v, or panics if err is set. It is meant for package level
// initialization of values that only fail on programmer error.
func Must[V any](v V, err error) V {
	if err != nil {
		panic(fmt.Errorf("must: %w", err))
	}

	return v
}
