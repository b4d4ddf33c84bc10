package artifact

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrNoEntry = errors.New("no entry artifact")

// FindEntry locates the entry file for name within the set. An absolute
// path that is a key of the set is returned as is. Otherwise name is treated
// as a glob (or a bare file name, with or without the .go extension) that is
// matched against all keys. The lexicographically first match wins.
func FindEntry(s *Set, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty entry name", ErrNoEntry)
	}

	if strings.HasPrefix(name, "/") && s.Has(name) {
		return Clean(name), nil
	}

	patterns := entryPatterns(name)

	for _, p := range s.Paths() {
		rel := strings.TrimPrefix(p, "/")
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
				return p, nil
			}
		}
	}

	return "", fmt.Errorf("%w: could not find an output file for the %q entry", ErrNoEntry, name)
}

func entryPatterns(name string) []string {
	name = strings.TrimPrefix(name, "/")

	if strings.ContainsAny(name, "*?[{") && doublestar.ValidatePattern(name) {
		return []string{name, "**/" + name}
	}

	patterns := []string{name, "**/" + name}
	if path.Ext(name) == "" {
		patterns = append(patterns, name+".go", "**/"+name+".go")
	}

	return patterns
}
