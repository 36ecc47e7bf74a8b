package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Mux routes "<source>:<id>" keys to the fetcher registered for source.
// Keys without a source prefix go to the default source.
type Mux struct {
	sources       map[string]Fetcher
	defaultSource string
}

// NewMux creates a router whose unprefixed keys use defaultSource
func NewMux(defaultSource string) *Mux {
	return &Mux{
		sources:       make(map[string]Fetcher),
		defaultSource: defaultSource,
	}
}

// Handle registers f for source. It is not safe to call once fetching
// has started.
func (m *Mux) Handle(source string, f Fetcher) *Mux {
	m.sources[strings.ToLower(source)] = f
	return m
}

// Sources lists the registered source names
func (m *Mux) Sources() []string {
	out := make([]string, 0, len(m.sources))
	for name := range m.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Split separates a key into its source and source-local id.
func (m *Mux) Split(key string) (source, id string) {
	if source, id, ok := strings.Cut(key, ":"); ok {
		return source, id
	}
	return m.defaultSource, key
}

func (m *Mux) Fetch(ctx context.Context, key string) (float64, error) {
	source, id := m.Split(key)
	f, ok := m.sources[source]
	if !ok {
		return 0, newError(source, key, KindNotFound, fmt.Errorf("%w: %q", ErrUnknownSource, source))
	}
	if id == "" {
		return 0, newError(source, key, KindNotFound, ErrUnknownKey)
	}
	return f.Fetch(ctx, id)
}
