package engine

import (
	"github.com/dop251/goja_nodejs/require"

	"github.com/wippyai/js-runtime/errors"
)

// Engine wraps the goja VM factory. One Engine mints isolated Realms that
// share configuration and the require registry.
type Engine struct {
	registry *require.Registry
	cfg      Config
	closed   bool
}

// Config holds configuration for engine creation
type Config struct {
	// MaxCallStackSize limits the engine call stack depth per realm.
	// 0 means goja's default (unlimited until Go stack exhaustion).
	MaxCallStackSize int

	// DisableConsole skips binding console.log and friends into new realms.
	DisableConsole bool

	// SourceLoader resolves require() paths for realms. Nil uses the
	// registry default (os file access relative to the process).
	SourceLoader require.SourceLoader
}

// New creates a new goja-backed engine
func New() (*Engine, error) {
	return NewWithConfig(nil)
}

// NewWithConfig creates a new engine with custom configuration
func NewWithConfig(cfg *Config) (*Engine, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxCallStackSize < 0 {
		return nil, errors.EngineInit("negative call stack size", nil)
	}

	var opts []require.Option
	if c.SourceLoader != nil {
		opts = append(opts, require.WithLoader(c.SourceLoader))
	}

	return &Engine{
		registry: require.NewRegistry(opts...),
		cfg:      c,
	}, nil
}

// Close releases the engine. Realms created from it stay usable only until
// their owning contexts are destroyed; no new realms can be created.
func (e *Engine) Close() error {
	e.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed
}
