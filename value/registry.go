package value

import (
	"fmt"
	"sync"
)

// TypeRegistry holds named type descriptors. Registering a name succeeds
// iff the name is unused or the submitted descriptor is structurally
// identical to the one already registered (§4.1, §9 "process-wide
// registries").
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewTypeRegistry constructs an empty registry pre-seeded with primitive
// kinds under their canonical names.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]Type)}
	for name, k := range primitiveKinds {
		r.types[name] = Type{Kind: k}
	}
	return r
}

var primitiveKinds = map[string]Kind{
	"bool":    KindBool,
	"int8":    KindInt8,
	"uint8":   KindUint8,
	"int16":   KindInt16,
	"uint16":  KindUint16,
	"int32":   KindInt32,
	"uint32":  KindUint32,
	"int64":   KindInt64,
	"uint64":  KindUint64,
	"float32": KindFloat32,
	"float64": KindFloat64,
	"string":  KindString,
}

// Register adds t under name. Re-registering the same name with a
// structurally identical descriptor is a no-op success.
func (r *TypeRegistry) Register(name string, t Type) error {
	if name == "" {
		return fmt.Errorf("value: cannot register type with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok {
		if existing.Equal(t) {
			return nil
		}
		return fmt.Errorf("value: type %q already registered with a different shape", name)
	}
	r.types[name] = t
	return nil
}

// Lookup returns the registered type for name.
func (r *TypeRegistry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *TypeRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}
