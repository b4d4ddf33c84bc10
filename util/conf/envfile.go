package conf

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/dotenv"
)

// ReadEnvFile parses the dotenv file at path into a map of variables.
// An empty path yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	env := make(map[string]string)
	if path == "" {
		return env, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	values, err := dotenv.Parser().Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}

	for key, value := range values {
		env[key] = fmt.Sprint(value)
	}

	return env, nil
}

// MergeEnv returns a copy of base with all entries of overrides applied.
func MergeEnv(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
