package conf

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/lambda-feedback/hotserve/util/cliflags"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type ParseOptions struct {
	// Cli is the cli.Context from urfave/cli
	Cli *cli.Context

	// CliMap maps cli flag names to config keys. Unmapped flags use
	// their name with dashes replaced by underscores.
	CliMap map[string]string

	// Defaults is a map of default values
	Defaults DefaultConfig

	// EnvPrefix is the prefix for env vars
	EnvPrefix string

	// FileName is an optional configuration file. JSON and dotenv files
	// are supported, selected by extension.
	FileName string

	// Log is the logger to use
	Log *zap.Logger
}

// Parse loads C from defaults, the configuration file, the environment
// and cli flags. Later sources override earlier ones.
func Parse[C any](opt ParseOptions) (C, error) {
	var config C

	log := opt.Log
	if log == nil {
		log = zap.NewNop()
	}

	k := koanf.New(".")

	loaders := []func(*koanf.Koanf, ParseOptions) error{
		loadDefaults,
		loadFile,
		loadEnv,
		loadFlags,
	}

	for _, load := range loaders {
		if err := load(k, opt); err != nil {
			log.Error("failed to load config", zap.Error(err))
			return config, err
		}
	}

	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "conf"}); err != nil {
		log.Error("failed to unmarshal config", zap.Error(err))
		return config, err
	}

	return config, nil
}

func loadDefaults(k *koanf.Koanf, opt ParseOptions) error {
	if opt.Defaults == nil {
		return nil
	}
	return k.Load(confmap.Provider(opt.Defaults, "."), nil)
}

func loadFile(k *koanf.Koanf, opt ParseOptions) error {
	if opt.FileName == "" {
		return nil
	}

	var parser koanf.Parser = json.Parser()
	if strings.EqualFold(filepath.Ext(opt.FileName), ".env") {
		parser = dotenv.ParserEnv("", "__", strings.ToLower)
	}

	if err := k.Load(file.Provider(opt.FileName), parser); err != nil {
		return fmt.Errorf("config file %s: %w", opt.FileName, err)
	}

	return nil
}

func loadEnv(k *koanf.Koanf, opt ParseOptions) error {
	cb := func(s string) string {
		return transformEnv(s, opt.EnvPrefix)
	}

	if err := k.Load(env.Provider(opt.EnvPrefix, ".", cb), nil); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	return nil
}

func loadFlags(k *koanf.Koanf, opt ParseOptions) error {
	if opt.Cli == nil {
		return nil
	}

	cb := func(s string) string {
		if name, ok := opt.CliMap[s]; ok {
			return name
		}
		return strings.ReplaceAll(strings.ToLower(s), "-", "_")
	}

	if err := k.Load(cliflags.Provider(opt.Cli, ".", cb), nil); err != nil {
		return fmt.Errorf("cli flags: %w", err)
	}

	return nil
}

// transformEnv maps PREFIX_A__B to a.b.
func transformEnv(s, prefix string) string {
	s = strings.TrimPrefix(s, prefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
