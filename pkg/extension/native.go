package extension

import (
	"context"
	"fmt"
	"plugin"

	"github.com/rs/zerolog"
)

// NativeSymbol is the symbol a shared-object extension must export
const NativeSymbol = "Init"

// NativeLoader opens Go plugin shared objects (.so)
type NativeLoader struct {
	logger zerolog.Logger
}

// NewNativeLoader creates a new shared-object loader
func NewNativeLoader(logger zerolog.Logger) *NativeLoader {
	return &NativeLoader{
		logger: logger.With().Str("component", "native-loader").Logger(),
	}
}

// Load implements ModuleLoader
func (l *NativeLoader) Load(_ context.Context, path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrModuleLoad, path, err)
	}

	sym, err := p.Lookup(NativeSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must export %q: %v", ErrModuleLoad, path, NativeSymbol, err)
	}

	entry, err := entryFromSymbol(sym)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, path, err)
	}

	l.logger.Debug().Str("path", path).Msg("Opened shared object")
	return entry, nil
}

// entryFromSymbol accepts either entry point shape, as a func or a
// pointer to a func variable
func entryFromSymbol(sym any) (EntryPoint, error) {
	switch fn := sym.(type) {
	case func(context.Context, *RuntimeContext) (any, error):
		return EntryPoint(fn), nil
	case *func(context.Context, *RuntimeContext) (any, error):
		return EntryPoint(*fn), nil
	case func(*RuntimeContext, func(error, any)):
		return FromCallback(fn), nil
	case *func(*RuntimeContext, func(error, any)):
		return FromCallback(*fn), nil
	case EntryPoint:
		return fn, nil
	case *EntryPoint:
		return *fn, nil
	default:
		return nil, fmt.Errorf("unexpected %s symbol type %T", NativeSymbol, sym)
	}
}
