package build

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type WatchConfig struct {
	// Dir is the source directory.
	Dir string `conf:"dir"`

	// Include are the glob patterns of files that are part of a build,
	// relative to Dir.
	Include []string `conf:"include"`

	// Exclude are the glob patterns of files and directories that are
	// never part of a build.
	Exclude []string `conf:"exclude"`

	// Out is the root under which the build output is keyed. Defaults
	// to the absolute source directory.
	Out string `conf:"out"`

	// Entry is the entry name passed with every build.
	Entry string `conf:"entry"`

	// Debounce is the quiet period after a change before rebuilding.
	Debounce time.Duration `conf:"debounce"`
}

var (
	DefaultInclude = []string{"**/*"}
	DefaultExclude = []string{".git/**", "**/*_test.go"}
)

// WatchSource rebuilds a source directory whenever it changes. A build
// reads all included files into an artifact set and syntax-checks the Go
// files among them.
type WatchSource struct {
	config WatchConfig
	fs     afero.Fs
	sink   Sink

	log *zap.Logger
}

func NewWatchSource(config WatchConfig, sink Sink, log *zap.Logger) (*WatchSource, error) {
	return newWatchSource(config, afero.NewOsFs(), sink, log)
}

func newWatchSource(config WatchConfig, fs afero.Fs, sink Sink, log *zap.Logger) (*WatchSource, error) {
	if config.Dir == "" {
		config.Dir = "."
	}

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("invalid source directory: %w", err)
	}
	config.Dir = dir

	if config.Out == "" {
		config.Out = filepath.ToSlash(dir)
	}
	config.Out = artifact.Clean(config.Out)

	if len(config.Include) == 0 {
		config.Include = DefaultInclude
	}

	if config.Exclude == nil {
		config.Exclude = DefaultExclude
	}

	for _, pattern := range append(append([]string{}, config.Include...), config.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
	}

	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}

	return &WatchSource{
		config: config,
		fs:     fs,
		sink:   sink,
		log:    log.Named("watch").With(zap.String("dir", dir)),
	}, nil
}

// Build reads the source directory into a build event.
func (w *WatchSource) Build() (supervisor.BuildEvent, error) {
	files := make(map[string]string)
	var diagnostics []string

	fset := token.NewFileSet()

	err := afero.Walk(w.fs, w.config.Dir, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := w.rel(name)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if rel != "." && w.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.included(rel) {
			return nil
		}

		content, err := afero.ReadFile(w.fs, name)
		if err != nil {
			return err
		}

		if strings.HasSuffix(rel, ".go") {
			diagnostics = append(diagnostics, check(fset, rel, content)...)
		}

		files[path.Join(w.config.Out, rel)] = string(content)

		return nil
	})
	if err != nil {
		return supervisor.BuildEvent{}, fmt.Errorf("failed to read sources: %w", err)
	}

	set := artifact.New(files)

	return supervisor.BuildEvent{
		Watch:   true,
		Assets:  set,
		Entry:   w.config.Entry,
		BuildID: set.Hash(),
		Errors:  diagnostics,
	}, nil
}

// Run builds once and then on every change until ctx is cancelled. The
// sink is terminated when Run returns.
func (w *WatchSource) Run(ctx context.Context) error {
	defer func() {
		if err := w.sink.Terminate(context.Background()); err != nil {
			w.log.Warn("failed to terminate", zap.Error(err))
		}
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.watchTree(watcher, w.config.Dir); err != nil {
		return err
	}

	if err := w.rebuild(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(w.config.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !w.relevant(watcher, event) {
				continue
			}

			w.log.Debug("source changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))

			timer.Reset(w.config.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-timer.C:
			if err := w.rebuild(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *WatchSource) rebuild(ctx context.Context) error {
	w.sink.BuildStarted()

	event, err := w.Build()
	if err != nil {
		w.log.Warn("build failed", zap.Error(err))
		event = supervisor.BuildEvent{Watch: true, Errors: []string{err.Error()}}
	}

	w.log.Info("build completed",
		zap.String("build", event.BuildID),
		zap.Int("files", event.Assets.Len()),
		zap.Int("errors", len(event.Errors)),
	)

	return w.sink.Apply(ctx, event)
}

// relevant reports whether event affects the build. New directories are
// added to the watcher.
func (w *WatchSource) relevant(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}

	rel, err := w.rel(event.Name)
	if err != nil || rel == "." {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := w.fs.Stat(event.Name); err == nil && info.IsDir() {
			if w.excluded(rel) {
				return false
			}
			if err := w.watchTree(watcher, event.Name); err != nil {
				w.log.Warn("failed to watch directory", zap.Error(err))
			}
			return true
		}
	}

	// removed directories and files both change the output
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return !w.excluded(rel)
	}

	return w.included(rel)
}

// watchTree adds dir and all non-excluded directories below it.
func (w *WatchSource) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return afero.Walk(w.fs, dir, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}

		if !info.IsDir() {
			return nil
		}

		rel, err := w.rel(name)
		if err != nil {
			return err
		}

		if rel != "." && w.excluded(rel) {
			return filepath.SkipDir
		}

		if err := watcher.Add(name); err != nil {
			return fmt.Errorf("failed to watch %s: %w", name, err)
		}

		return nil
	})
}

func (w *WatchSource) rel(name string) (string, error) {
	rel, err := filepath.Rel(w.config.Dir, name)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (w *WatchSource) included(rel string) bool {
	return !w.excluded(rel) && matchAny(w.config.Include, rel)
}

func (w *WatchSource) excluded(rel string) bool {
	return matchAny(w.config.Exclude, rel)
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// check parses a Go file and returns its syntax errors.
func check(fset *token.FileSet, name string, content []byte) []string {
	_, err := parser.ParseFile(fset, name, content, parser.AllErrors)
	if err == nil {
		return nil
	}

	var list scanner.ErrorList
	if errors.As(err, &list) {
		diagnostics := make([]string, 0, len(list))
		for _, e := range list {
			diagnostics = append(diagnostics, e.Error())
		}
		return diagnostics
	}

	return []string{err.Error()}
}
