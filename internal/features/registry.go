package features

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/framefeatures/internal/feature"
)

// Settings carries the parameters operation constructors may need.
type Settings struct {
	Orientation OrientationConfig
}

// Constructor builds one operation from settings.
type Constructor func(Settings) (feature.Op, error)

// Registry maps operation names, as used in configuration files, to
// constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in operations.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register(KeyGrayscale, func(Settings) (feature.Op, error) { return NewGrayscale(), nil })
	r.Register(KeyMaxPixel, func(Settings) (feature.Op, error) { return NewMaxPixel(), nil })
	r.Register(KeyBatchLength, func(Settings) (feature.Op, error) { return NewBatchLength(), nil })
	r.Register(KeyPixelStats, func(Settings) (feature.Op, error) { return NewPixelStats(), nil })
	r.Register("bowtie_filter", orientationCtor(MaskBowtie))
	r.Register("noise_filter", orientationCtor(MaskNoise))
	return r
}

func orientationCtor(mask Mask) Constructor {
	return func(s Settings) (feature.Op, error) {
		cfg := s.Orientation
		cfg.Mask = mask
		return NewOrientationFilter(cfg)
	}
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = c
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named operations in order.
func (r *Registry) Build(names []string, s Settings) ([]feature.Op, error) {
	ops := make([]feature.Op, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		c, ok := r.ctors[name]
		r.mu.RUnlock()
		if !ok {
			return nil, &feature.ConfigError{Key: name, Reason: "unknown operation"}
		}
		op, err := c(s)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Close releases resources held by operations that own them.
func Close(ops []feature.Op) {
	for _, op := range ops {
		if c, ok := op.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
