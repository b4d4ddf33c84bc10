// Package shim makes an artifact set indistinguishable from real files.
//
// The shim composes with a real filesystem instead of replacing it: any path
// that is not part of the current artifact set is delegated unchanged, so the
// hosted program's dependencies keep loading from disk. The artifact set is
// held by reference and can be swapped while the worker runs.
package shim

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/spf13/afero"
)

// Resolver maps a module path candidate to the path that should be loaded.
type Resolver func(candidate string) (string, error)

type Shim struct {
	base       afero.Fs
	current    atomic.Pointer[view]
	resolve    Resolver
	extensions []string
}

// view is the artifact set together with the overlay filesystem built from
// it. Both are replaced together on Swap.
type view struct {
	set *artifact.Set
	fs  afero.Fs
}

type Option func(*Shim)

// WithResolver replaces the resolver used for candidates that are not part
// of the artifact set.
func WithResolver(r Resolver) Option {
	return func(s *Shim) {
		s.resolve = r
	}
}

// WithExtensions sets the extensions probed by the default resolver.
func WithExtensions(ext ...string) Option {
	return func(s *Shim) {
		s.extensions = ext
	}
}

// New creates a shim over base serving the given set. A nil set is treated
// as empty.
func New(base afero.Fs, set *artifact.Set, opts ...Option) *Shim {
	s := &Shim{
		base:       base,
		extensions: []string{".go"},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.resolve == nil {
		s.resolve = s.resolveBase
	}

	s.Swap(set)

	return s
}

// Swap replaces the current artifact set. Readers observe either the old or
// the new set, never a mix of both.
func (s *Shim) Swap(set *artifact.Set) {
	if set == nil {
		set = artifact.New(nil)
	}
	s.current.Store(&view{set: set, fs: overlay(s.base, set)})
}

// Assets returns the current artifact set.
func (s *Shim) Assets() *artifact.Set {
	return s.current.Load().set
}

// Fs returns an afero view of the current artifact set layered over the
// real filesystem. The returned value does not follow later swaps.
func (s *Shim) Fs() afero.Fs {
	return s.current.Load().fs
}

// Exists reports whether name is part of the artifact set, falling back to
// the real filesystem.
func (s *Shim) Exists(name string) bool {
	if s.Assets().Has(key(name)) {
		return true
	}
	ok, err := afero.Exists(s.base, name)
	return err == nil && ok
}

// ReadFile returns the in-memory content of name if it is part of the
// artifact set, otherwise it reads from the real filesystem.
func (s *Shim) ReadFile(name string) ([]byte, error) {
	if content, ok := s.Assets().Get(key(name)); ok {
		return []byte(content), nil
	}
	return afero.ReadFile(s.base, name)
}

// ReadFileAsync reads name like ReadFile and delivers the result to cb. The
// callback always runs on another goroutine, never before ReadFileAsync
// returns to a caller that is blocked on it.
func (s *Shim) ReadFileAsync(name string, cb func([]byte, error)) {
	if content, ok := s.Assets().Get(key(name)); ok {
		go cb([]byte(content), nil)
		return
	}

	go func() {
		cb(afero.ReadFile(s.base, name))
	}()
}

// Stat returns file info for name from the merged view.
func (s *Shim) Stat(name string) (fs.FileInfo, error) {
	return s.Fs().Stat(name)
}

// Open opens name from the merged view.
func (s *Shim) Open(name string) (afero.File, error) {
	return s.Fs().Open(name)
}

// ReadDir lists a directory of the merged view, sorted by name.
func (s *Shim) ReadDir(name string) ([]os.FileInfo, error) {
	return afero.ReadDir(s.Fs(), name)
}

// Resolve returns candidate unchanged if it is part of the artifact set.
// Anything else is handed to the configured resolver.
func (s *Shim) Resolve(candidate string) (string, error) {
	if k := key(candidate); s.Assets().Has(k) {
		return k, nil
	}
	return s.resolve(candidate)
}

// key maps name to the artifact key it would be stored under. Relative
// names are resolved against the working directory first.
func key(name string) string {
	if filepath.IsAbs(name) || path.IsAbs(name) {
		return name
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return name
	}
	return filepath.ToSlash(abs)
}

func (s *Shim) resolveBase(candidate string) (string, error) {
	probes := []string{candidate}
	if path.Ext(candidate) == "" {
		for _, ext := range s.extensions {
			probes = append(probes, candidate+ext)
		}
	}

	for _, p := range probes {
		if fi, err := s.base.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}

	return "", &fs.PathError{Op: "resolve", Path: candidate, Err: fs.ErrNotExist}
}

// overlay materializes set into an in-memory layer on top of a read-only
// view of base.
func overlay(base afero.Fs, set *artifact.Set) afero.Fs {
	layer := afero.NewMemMapFs()

	for _, p := range set.Paths() {
		content, _ := set.Get(p)
		// the layer is private and in-memory, writes cannot fail
		_ = layer.MkdirAll(path.Dir(p), 0o755)
		_ = afero.WriteFile(layer, p, []byte(content), 0o444)
	}

	return afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(base), layer)
}
