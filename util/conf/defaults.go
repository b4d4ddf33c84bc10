package conf

// DefaultConfig is a flat map of dotted config keys to default values.
type DefaultConfig map[string]any

// Namespace prefixes all keys of defaults with ns.
func Namespace(ns string, defaults DefaultConfig) DefaultConfig {
	return MergeDefaults(ns, defaults)
}

// MergeDefaults merges maps into one, prefixing every key with ns.
func MergeDefaults[M ~map[string]V, V any](ns string, maps ...M) M {
	fullCap := 0
	for _, m := range maps {
		fullCap += len(m)
	}

	merged := make(M, fullCap)
	for _, m := range maps {
		for key, val := range m {
			merged[ns+"."+key] = val
		}
	}

	return merged
}

// Combine merges defaults into one map. Later maps win on conflicts.
func Combine(defaults ...DefaultConfig) DefaultConfig {
	combined := DefaultConfig{}
	for _, d := range defaults {
		for key, val := range d {
			combined[key] = val
		}
	}
	return combined
}
