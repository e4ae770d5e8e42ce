package converter

import (
	"sort"
	"sync"

	"github.com/rendis/drawmaid/pkg/schema"
)

// Constructor builds a converter from shared dependencies.
type Constructor func(Deps) Converter

// DefaultConstructors maps every supported diagram type to its converter.
func DefaultConstructors() map[schema.DiagramType]Constructor {
	return map[schema.DiagramType]Constructor{
		schema.DiagramFlowchart:    NewFlowchart,
		schema.DiagramArchitecture: NewArchitecture,
		schema.DiagramGeneric:      NewGeneric,
	}
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConstructors replaces or adds converters by type.
func WithConstructors(c map[schema.DiagramType]Constructor) FactoryOption {
	return func(f *Factory) {
		for t, fn := range c {
			f.ctors[t] = fn
		}
	}
}

// WithUnsupportedFallback routes unsupported sources to the generic converter
// instead of failing.
func WithUnsupportedFallback(enabled bool) FactoryOption {
	return func(f *Factory) { f.fallback = enabled }
}

// Factory selects a converter per diagram type. Converters are built once and reused.
type Factory struct {
	deps     Deps
	ctors    map[schema.DiagramType]Constructor
	fallback bool

	mu    sync.Mutex
	built map[schema.DiagramType]Converter
}

// NewFactory creates a factory over the default converters.
func NewFactory(deps Deps, opts ...FactoryOption) *Factory {
	f := &Factory{
		deps:  deps,
		ctors: DefaultConstructors(),
		built: map[schema.DiagramType]Converter{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// For returns the converter for t. Unknown or unsupported types fail with
// UNSUPPORTED_DIAGRAM unless the generic fallback is enabled.
func (f *Factory) For(t schema.DiagramType) (Converter, error) {
	if t == schema.DiagramUnsupported && f.fallback {
		t = schema.DiagramGeneric
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.built[t]; ok {
		return c, nil
	}
	ctor, ok := f.ctors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupported, "unsupported diagram type %q", t).
			WithStage(schema.StageConverterSelected).
			WithDetails(map[string]any{"diagram_type": string(t), "supported": f.typesLocked()})
	}
	c := ctor(f.deps)
	f.built[t] = c
	return c, nil
}

// Types lists the diagram types with a converter, sorted.
func (f *Factory) Types() []schema.DiagramType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typesLocked()
}

func (f *Factory) typesLocked() []schema.DiagramType {
	out := make([]schema.DiagramType, 0, len(f.ctors))
	for t := range f.ctors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
