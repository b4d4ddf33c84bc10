package build

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStream(t *testing.T, input string, sink Sink) *StreamSource {
	return NewStreamSource(strings.NewReader(input), sink, zap.NewNop())
}

func TestStreamSource_Decode(t *testing.T) {
	s := newStream(t, "", &recordingSink{})

	tests := []struct {
		name  string
		line  string
		valid bool
	}{
		{"start", `{"type":"start"}`, true},
		{"done", `{"type":"done","build":"1","assets":{"/app/main.go":"package main"}}`, true},
		{"close", `{"type":"close"}`, true},
		{"unknown type", `{"type":"rebuild"}`, false},
		{"missing type", `{"build":"1"}`, false},
		{"done without assets", `{"type":"done","build":"1"}`, false},
		{"non-string asset", `{"type":"done","assets":{"/a":1}}`, false},
		{"not json", `type=done`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decode([]byte(tt.line))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEvent)
			}
		})
	}
}

func TestStreamSource_Run_ForwardsEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"start"}`,
		`{"type":"done","build":"b1","entry":"server","assets":{"/app/server.go":"package main"}}`,
		``,
		`{"type":"bogus"}`,
		`{"type":"done","build":"b2","watch":false,"assets":{},"errors":["boom"]}`,
		`{"type":"close"}`,
		`{"type":"start"}`,
	}, "\n")

	sink := &recordingSink{}

	require.NoError(t, newStream(t, input, sink).Run(context.Background()))

	events := sink.events()
	require.Len(t, events, 2)

	assert.True(t, events[0].Watch)
	assert.Equal(t, "b1", events[0].BuildID)
	assert.Equal(t, "server", events[0].Entry)
	content, ok := events[0].Assets.Get("/app/server.go")
	require.True(t, ok)
	assert.Equal(t, "package main", content)

	assert.False(t, events[1].Watch)
	assert.Equal(t, []string{"boom"}, events[1].Errors)

	// events after close are not read
	assert.Equal(t, 1, sink.startedCount())
	assert.True(t, sink.isTerminated())
}

func TestStreamSource_Run_EndOfStreamTerminates(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, newStream(t, `{"type":"start"}`, sink).Run(context.Background()))

	assert.True(t, sink.isTerminated())
}

func TestStreamSource_Run_ReturnsConfigError(t *testing.T) {
	sink := &recordingSink{applyErr: assert.AnError}

	input := `{"type":"done","assets":{"/app/x.txt":"x"}}`

	err := newStream(t, input, sink).Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStreamSource_Run_StopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	sink := &recordingSink{}

	s := NewStreamSource(r, sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}

	assert.True(t, sink.isTerminated())
}
