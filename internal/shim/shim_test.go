package shim_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/shim"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRealFile(t *testing.T, content string) string {
	dir := t.TempDir()
	name := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
	return name
}

func TestShim_PassThrough_RealFile(t *testing.T) {
	name := createRealFile(t, "from disk")

	s := shim.New(afero.NewOsFs(), artifact.New(map[string]string{"/app/main.go": "x"}))

	assert.True(t, s.Exists(name))

	content, err := s.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(content))
}

func TestShim_PassThrough_MissingFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "missing.txt")

	s := shim.New(afero.NewOsFs(), artifact.New(nil))

	_, unshimmedErr := os.ReadFile(name)
	_, err := s.ReadFile(name)

	assert.False(t, s.Exists(name))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, unshimmedErr, fs.ErrNotExist)
}

func TestShim_Override_NotOnDisk(t *testing.T) {
	name := filepath.Join(t.TempDir(), "virtual", "entry.go")

	s := shim.New(afero.NewOsFs(), artifact.New(map[string]string{name: "package main"}))

	_, statErr := os.Stat(name)
	require.ErrorIs(t, statErr, fs.ErrNotExist)

	assert.True(t, s.Exists(name))

	content, err := s.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "package main", string(content))
}

func TestShim_Override_ShadowsDisk(t *testing.T) {
	name := createRealFile(t, "from disk")

	s := shim.New(afero.NewOsFs(), artifact.New(map[string]string{name: "from memory"}))

	content, err := s.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "from memory", string(content))
}

func TestShim_ReadFileAsync_DeliversOnAnotherGoroutine(t *testing.T) {
	s := shim.New(afero.NewMemMapFs(), artifact.New(map[string]string{"/a.txt": "async"}))

	release := make(chan struct{})
	got := make(chan string, 1)
	returned := make(chan struct{})

	go func() {
		s.ReadFileAsync("/a.txt", func(b []byte, err error) {
			<-release
			assert.NoError(t, err)
			got <- string(b)
		})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("ReadFileAsync blocked on its callback")
	}

	close(release)

	select {
	case content := <-got:
		assert.Equal(t, "async", content)
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}
}

func TestShim_ReadFileAsync_Delegates(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/disk.txt", []byte("disk"), 0o644))

	s := shim.New(base, nil)

	done := make(chan struct{})
	s.ReadFileAsync("/disk.txt", func(b []byte, err error) {
		defer close(done)
		assert.NoError(t, err)
		assert.Equal(t, "disk", string(b))
	})

	<-done

	missing := make(chan error, 1)
	s.ReadFileAsync("/missing.txt", func(_ []byte, err error) {
		missing <- err
	})
	assert.ErrorIs(t, <-missing, fs.ErrNotExist)
}

func TestShim_Swap_UpdatesReaders(t *testing.T) {
	s := shim.New(afero.NewMemMapFs(), artifact.New(map[string]string{"/a": "1", "/b": "2"}))

	fsys := s.FS()

	s.Swap(artifact.New(map[string]string{"/a": "1-updated"}))

	content, err := fs.ReadFile(fsys, "a")
	require.NoError(t, err)
	assert.Equal(t, "1-updated", string(content))

	assert.False(t, s.Exists("/b"))
	assert.Equal(t, 1, s.Assets().Len())
}

func TestShim_Resolve(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/vendor", 0o755))
	require.NoError(t, afero.WriteFile(base, "/vendor/lib.go", []byte("package lib"), 0o644))

	s := shim.New(base, artifact.New(map[string]string{"/app/main.go": "package main"}))

	resolved, err := s.Resolve("/app/main.go")
	require.NoError(t, err)
	assert.Equal(t, "/app/main.go", resolved)

	resolved, err = s.Resolve("/vendor/lib")
	require.NoError(t, err)
	assert.Equal(t, "/vendor/lib.go", resolved)

	_, err = s.Resolve("/nowhere")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestShim_Resolve_CustomResolver(t *testing.T) {
	var asked string

	s := shim.New(afero.NewMemMapFs(), nil, shim.WithResolver(func(candidate string) (string, error) {
		asked = candidate
		return "/resolved", nil
	}))

	resolved, err := s.Resolve("/candidate")
	require.NoError(t, err)
	assert.Equal(t, "/resolved", resolved)
	assert.Equal(t, "/candidate", asked)
}

func TestShim_FS_MergesDirectories(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/app", 0o755))
	require.NoError(t, afero.WriteFile(base, "/app/disk.go", []byte("package app"), 0o644))

	s := shim.New(base, artifact.New(map[string]string{
		"/app/memory.go":     "package app",
		"/app/sub/nested.go": "package sub",
	}))

	entries, err := fs.ReadDir(s.FS(), "/app")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"disk.go", "memory.go", "sub"}, names)

	fi, err := fs.Stat(s.FS(), "app/memory.go")
	require.NoError(t, err)
	assert.False(t, fi.IsDir())
	assert.Equal(t, int64(len("package app")), fi.Size())
}

func TestShim_FS_OpenReadsMemory(t *testing.T) {
	s := shim.New(afero.NewMemMapFs(), artifact.New(map[string]string{"/app/main.go": "package main"}))

	f, err := s.FS().Open("app/main.go")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	assert.Equal(t, "package main", string(buf[:n]))
}

func TestShim_PassThrough_RelativeName(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "config.json", []byte("from-disk"), 0o644))

	s := shim.New(base, artifact.New(map[string]string{"/config.json": "from-memory"}))

	content, err := s.ReadFile("config.json")
	require.NoError(t, err)
	assert.Equal(t, "from-disk", string(content))

	content, err = s.ReadFile("/config.json")
	require.NoError(t, err)
	assert.Equal(t, "from-memory", string(content))
}

func TestShim_Override_RelativeToWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	name := filepath.ToSlash(filepath.Join(wd, "virtual.txt"))

	s := shim.New(afero.NewMemMapFs(), artifact.New(map[string]string{name: "from-memory"}))

	assert.True(t, s.Exists("virtual.txt"))

	content, err := s.ReadFile("virtual.txt")
	require.NoError(t, err)
	assert.Equal(t, "from-memory", string(content))
}
