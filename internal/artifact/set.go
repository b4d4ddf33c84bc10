// Package artifact models the immutable output of one build: a mapping from
// absolute file path to file contents, plus the diff and entry lookups the
// supervisor needs to restart or patch a running worker.
package artifact

import (
	"encoding/hex"
	"path"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// Set is an immutable path -> content snapshot produced by a single build.
// A Set is never mutated after construction; Apply returns a new Set.
type Set struct {
	files map[string]string
	paths []string
}

// New creates a set from the given files. Keys are cleaned into absolute
// slash-separated paths. The input map is copied.
func New(files map[string]string) *Set {
	s := &Set{
		files: make(map[string]string, len(files)),
		paths: make([]string, 0, len(files)),
	}

	for p, content := range files {
		key := Clean(p)
		if _, ok := s.files[key]; !ok {
			s.paths = append(s.paths, key)
		}
		s.files[key] = content
	}

	sort.Strings(s.paths)

	return s
}

// Clean normalizes p into the canonical key form: slash separated,
// rooted and without trailing slashes or dot segments.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Get returns the content stored for p.
func (s *Set) Get(p string) (string, bool) {
	if s == nil {
		return "", false
	}
	content, ok := s.files[Clean(p)]
	return content, ok
}

// Has reports whether p is a key of the set.
func (s *Set) Has(p string) bool {
	_, ok := s.Get(p)
	return ok
}

// Len returns the number of files in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.files)
}

// Paths returns the sorted keys of the set.
func (s *Set) Paths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// Map returns a copy of the underlying mapping.
func (s *Set) Map() map[string]string {
	out := make(map[string]string, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.files {
		out[k] = v
	}
	return out
}

// Hash returns a content-addressed identifier of the set. Two sets with
// identical paths and contents always hash to the same value.
func (s *Set) Hash() string {
	h := xxh3.New()
	for _, p := range s.Paths() {
		content, _ := s.Get(p)
		// length prefixes keep path/content boundaries unambiguous
		writeField(h, p)
		writeField(h, content)
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}

func writeField(h *xxh3.Hasher, field string) {
	var size [8]byte
	n := uint64(len(field))
	for i := range size {
		size[i] = byte(n >> (8 * i))
	}
	_, _ = h.Write(size[:])
	_, _ = h.WriteString(field)
}

// Apply returns a new set with the patch merged in: changed files are
// added or replaced and removed files are dropped.
func (s *Set) Apply(p Patch) *Set {
	files := s.Map()
	for k, v := range p.Changed {
		files[Clean(k)] = v
	}
	for _, k := range p.Removed {
		delete(files, Clean(k))
	}
	return New(files)
}
