package shim

import (
	"io/fs"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/spf13/afero"
)

// FS returns an io/fs view of the shim that always reads the current
// artifact set. Names may be rooted or unrooted; both are resolved from the
// filesystem root.
func (s *Shim) FS() fs.FS {
	return ioFS{s: s}
}

type ioFS struct {
	s *Shim
}

var (
	_ fs.StatFS     = ioFS{}
	_ fs.ReadFileFS = ioFS{}
	_ fs.ReadDirFS  = ioFS{}
)

func (f ioFS) Open(name string) (fs.File, error) {
	file, err := f.s.Open(artifact.Clean(name))
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (f ioFS) Stat(name string) (fs.FileInfo, error) {
	return f.s.Stat(artifact.Clean(name))
}

func (f ioFS) ReadFile(name string) ([]byte, error) {
	return f.s.ReadFile(artifact.Clean(name))
}

func (f ioFS) ReadDir(name string) ([]fs.DirEntry, error) {
	infos, err := afero.ReadDir(f.s.Fs(), artifact.Clean(name))
	if err != nil {
		return nil, err
	}

	entries := make([]fs.DirEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, fs.FileInfoToDirEntry(fi))
	}

	return entries, nil
}
