package build

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/util"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

var ErrInvalidEvent = errors.New("invalid build event")

// maxEventSize bounds a single line of the event stream.
const maxEventSize = 256 << 20

//go:embed build-event.json
var eventSchema json.RawMessage

var eventSchemaValidator = util.Must(gojsonschema.NewSchema(gojsonschema.NewBytesLoader(eventSchema)))

type EventType string

const (
	EventStart EventType = "start"
	EventDone  EventType = "done"
	EventClose EventType = "close"
)

// Event is one line of a build event stream.
type Event struct {
	Type   EventType         `json:"type"`
	Build  string            `json:"build,omitempty"`
	Entry  string            `json:"entry,omitempty"`
	Watch  *bool             `json:"watch,omitempty"`
	Assets map[string]string `json:"assets,omitempty"`
	Errors []string          `json:"errors,omitempty"`
}

// StreamSource reads newline delimited JSON build events, as emitted by
// an external build pipeline, and forwards them to a sink.
type StreamSource struct {
	r      io.Reader
	sink   Sink
	schema *gojsonschema.Schema

	log *zap.Logger
}

func NewStreamSource(r io.Reader, sink Sink, log *zap.Logger) *StreamSource {
	return &StreamSource{
		r:      r,
		sink:   sink,
		schema: eventSchemaValidator,
		log:    log.Named("stream"),
	}
}

// Run forwards events until the stream ends, a close event arrives or ctx
// is cancelled. The sink is terminated in all cases.
func (s *StreamSource) Run(ctx context.Context) error {
	defer func() {
		if err := s.sink.Terminate(context.Background()); err != nil {
			s.log.Warn("failed to terminate", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 64*1024), maxEventSize)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read build events: %w", err)
			}
			s.log.Debug("build event stream ended")
			return nil
		case line := <-lines:
			event, err := s.Decode(line)
			if err != nil {
				s.log.Warn("skipping build event", zap.Error(err))
				continue
			}

			done, err := s.dispatch(ctx, event)
			if err != nil || done {
				return err
			}
		}
	}
}

// Decode validates and decodes a single event.
func (s *StreamSource) Decode(line []byte) (Event, error) {
	var event Event

	res, err := s.schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return event, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if !res.Valid() {
		reasons := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			reasons = append(reasons, e.String())
		}
		return event, fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(reasons, "; "))
	}

	if err := json.Unmarshal(line, &event); err != nil {
		return event, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return event, nil
}

func (s *StreamSource) dispatch(ctx context.Context, event Event) (bool, error) {
	log := s.log.With(zap.String("type", string(event.Type)), zap.String("build", event.Build))

	switch event.Type {
	case EventStart:
		log.Debug("build started")
		s.sink.BuildStarted()
	case EventDone:
		log.Debug("build completed", zap.Int("assets", len(event.Assets)))

		watch := true
		if event.Watch != nil {
			watch = *event.Watch
		}

		return false, s.sink.Apply(ctx, supervisor.BuildEvent{
			Watch:   watch,
			Assets:  artifact.New(event.Assets),
			Entry:   event.Entry,
			BuildID: event.Build,
			Errors:  event.Errors,
		})
	case EventClose:
		log.Debug("build pipeline closed")
		return true, nil
	}

	return false, nil
}
