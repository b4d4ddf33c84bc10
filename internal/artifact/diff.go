package artifact

import "sort"

// Patch is the incremental update pushed to a running worker. Changed holds
// new or updated contents, Removed lists tombstoned paths.
type Patch struct {
	Changed map[string]string `json:"changed"`
	Removed []string          `json:"removed,omitempty"`
}

// Empty reports whether the patch carries no changes at all.
func (p Patch) Empty() bool {
	return len(p.Changed) == 0 && len(p.Removed) == 0
}

// ChangedPaths returns the sorted keys of Changed.
func (p Patch) ChangedPaths() []string {
	out := make([]string, 0, len(p.Changed))
	for k := range p.Changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Diff computes the patch that turns previous into next. Every path of next
// is reported as changed, every path only present in previous is removed.
// A nil previous yields the entirety of next.
func Diff(previous, next *Set) Patch {
	patch := Patch{Changed: next.Map()}

	if previous == nil {
		return patch
	}

	for _, p := range previous.Paths() {
		if !next.Has(p) {
			patch.Removed = append(patch.Removed, p)
		}
	}

	return patch
}
