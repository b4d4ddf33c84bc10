// Package cliflags implements a koanf.Provider exposing the flags that
// were set on a cli.Context.
package cliflags

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/maps"
	"github.com/urfave/cli/v2"
)

type CLIFlags struct {
	mp map[string]any
}

// Provider collects the values of all flags set on ctx, including the
// flags of the root app. Keys are renamed with cb if it is not nil, and
// unflattened by delim if it is not empty.
func Provider(ctx *cli.Context, delim string, cb func(string) string) *CLIFlags {
	known := map[string]cli.Flag{}
	for _, flags := range [][]cli.Flag{ctx.App.VisibleFlags(), ctx.Command.VisibleFlags()} {
		for _, flag := range flags {
			known[flag.Names()[0]] = flag
		}
	}

	mp := make(map[string]any)

	for _, name := range ctx.FlagNames() {
		flag, ok := known[name]
		if !ok {
			continue
		}

		value, err := flagValue(ctx, flag)
		if err != nil {
			continue
		}

		key := name
		if cb != nil {
			key = cb(name)
		}
		mp[key] = value
	}

	if delim != "" {
		mp = maps.Unflatten(mp, delim)
	}

	return &CLIFlags{mp: mp}
}

// ReadBytes is not supported by the cli provider.
func (e *CLIFlags) ReadBytes() ([]byte, error) {
	return nil, errors.New("cli provider does not support this method")
}

// Read returns the collected flag values.
func (e *CLIFlags) Read() (map[string]any, error) {
	return e.mp, nil
}

func flagValue(ctx *cli.Context, flag cli.Flag) (any, error) {
	name := flag.Names()[0]

	switch flag.(type) {
	case *cli.StringFlag:
		return ctx.String(name), nil
	case *cli.StringSliceFlag:
		return ctx.StringSlice(name), nil
	case *cli.PathFlag:
		return ctx.Path(name), nil
	case *cli.IntFlag:
		return ctx.Int(name), nil
	case *cli.IntSliceFlag:
		return ctx.IntSlice(name), nil
	case *cli.Int64Flag:
		return ctx.Int64(name), nil
	case *cli.Int64SliceFlag:
		return ctx.Int64Slice(name), nil
	case *cli.UintFlag:
		return ctx.Uint(name), nil
	case *cli.BoolFlag:
		return ctx.Bool(name), nil
	case *cli.Float64Flag:
		return ctx.Float64(name), nil
	case *cli.Float64SliceFlag:
		return ctx.Float64Slice(name), nil
	case *cli.DurationFlag:
		return ctx.Duration(name), nil
	default:
		return nil, fmt.Errorf("unsupported flag type %T", flag)
	}
}
