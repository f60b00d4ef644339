// Package backend builds services from configuration.
//
// Every backend type registers a constructor under a type tag. The
// configuration names the tag of each backend together with its id,
// location and type specific options.
package backend

import (
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

// Config describes one backend.
type Config struct {
	Type     string `mapstructure:"type"`
	ID       string `mapstructure:"id"`
	Location string `mapstructure:"location"`
	Room     string `mapstructure:"room"`
	// Options holds every other key of the entry.
	Options map[string]any `mapstructure:",remain"`
}

// DecodeOptions decodes the options of c into out. Unknown options are an
// error.
func (c Config) DecodeOptions(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.Options); err != nil {
		return kerr.Wrap(kerr.KindValidation, "backend."+c.Type, err)
	}
	return nil
}

// Constructor builds a service of type S from its configuration.
type Constructor[S service.Service] func(c Config, logger *zap.SugaredLogger) (S, error)

// Factory maps type tags to constructors.
type Factory[S service.Service] struct {
	mu           sync.RWMutex
	constructors map[string]Constructor[S]
}

// NewFactory returns a factory without types.
func NewFactory[S service.Service]() *Factory[S] {
	return &Factory[S]{constructors: make(map[string]Constructor[S])}
}

// Register adds the constructor for typ.
func (f *Factory[S]) Register(typ string, c Constructor[S]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.constructors[typ]; ok {
		return kerr.DuplicateID("backend.Register", typ)
	}
	f.constructors[typ] = c
	return nil
}

// Types returns the registered type tags in lexical order.
func (f *Factory[S]) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.constructors))
	for typ := range f.constructors {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Build constructs the service described by c.
func (f *Factory[S]) Build(c Config, logger *zap.SugaredLogger) (S, error) {
	var zero S
	if c.ID == "" {
		return zero, kerr.Validation("backend.Build", "id", "backend of type %q has no id", c.Type)
	}
	f.mu.RLock()
	construct, ok := f.constructors[c.Type]
	f.mu.RUnlock()
	if !ok {
		return zero, kerr.Validation("backend.Build", "type", "unknown backend type %q for %q", c.Type, c.ID)
	}
	return construct(c, logger.With("backend", c.ID))
}

// Lights returns a factory with the built-in light types.
func Lights() *Factory[service.LightService] {
	f := NewFactory[service.LightService]()
	_ = f.Register("dummy", func(c Config, logger *zap.SugaredLogger) (service.LightService, error) {
		s, err := NewDummyLight(c, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	_ = f.Register("shc", func(c Config, logger *zap.SugaredLogger) (service.LightService, error) {
		s, err := NewSHCLight(c, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	return f
}

// Temperatures returns a factory with the built-in temperature types.
func Temperatures() *Factory[service.TemperatureService] {
	f := NewFactory[service.TemperatureService]()
	_ = f.Register("dummy", func(c Config, logger *zap.SugaredLogger) (service.TemperatureService, error) {
		s, err := NewDummyTemperature(c, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	_ = f.Register("shc", func(c Config, logger *zap.SugaredLogger) (service.TemperatureService, error) {
		s, err := NewSHCTemperature(c, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	return f
}

// Locals returns a factory with the built-in local types.
func Locals() *Factory[service.LocalService] {
	f := NewFactory[service.LocalService]()
	_ = f.Register("sun", func(c Config, logger *zap.SugaredLogger) (service.LocalService, error) {
		s, err := NewSun(c, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	return f
}
