package artifact_test

import (
	"testing"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindEntry(t *testing.T) {
	s := artifact.New(map[string]string{
		"/out/main.go":          "package main",
		"/out/lib/handlers.go":  "package lib",
		"/out/cmd/tool/tool.go": "package main",
	})

	tests := []struct {
		name     string
		entry    string
		expected string
	}{
		{"bare name", "main", "/out/main.go"},
		{"file name", "main.go", "/out/main.go"},
		{"absolute path", "/out/cmd/tool/tool.go", "/out/cmd/tool/tool.go"},
		{"glob", "cmd/**/*.go", "/out/cmd/tool/tool.go"},
		{"nested name", "tool", "/out/cmd/tool/tool.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := artifact.FindEntry(s, tt.entry)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, entry)
		})
	}
}

func TestFindEntry_NotFound(t *testing.T) {
	s := artifact.New(map[string]string{"/out/server.go": "package main"})

	_, err := artifact.FindEntry(s, "main")
	assert.ErrorIs(t, err, artifact.ErrNoEntry)

	_, err = artifact.FindEntry(s, "")
	assert.ErrorIs(t, err, artifact.ErrNoEntry)

	_, err = artifact.FindEntry(s, "/out/missing.go")
	assert.ErrorIs(t, err, artifact.ErrNoEntry)
}

func TestFindEntry_PicksFirstMatch(t *testing.T) {
	s := artifact.New(map[string]string{
		"/out/b/main.go": "",
		"/out/a/main.go": "",
	})

	entry, err := artifact.FindEntry(s, "main")
	require.NoError(t, err)
	assert.Equal(t, "/out/a/main.go", entry)
}
