package functions

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistrar records registrations in memory, for tests and dry runs
type MemoryRegistrar struct {
	mu    sync.Mutex
	infos map[string]Info
}

var _ Registrar = (*MemoryRegistrar)(nil)

// NewMemoryRegistrar creates an empty registrar
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{infos: make(map[string]Info)}
}

// RegisterFunction creates or replaces the function
func (m *MemoryRegistrar) RegisterFunction(ctx context.Context, fn Function) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := fn.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.infos[fn.Name] = InfoOf(fn)

	return nil
}

// ListFunctions returns the registered functions ordered by name
func (m *MemoryRegistrar) ListFunctions(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}
