package value_test

import (
	"testing"

	"github.com/sup-oac/oactree/value"
)

func TestScalarEquality(t *testing.T) {
	a := value.NewInt64(5)
	b := value.NewInt64(5)
	c := value.NewInt64(6)
	if !a.Equal(b) {
		t.Fatalf("expected equal values")
	}
	if a.Equal(c) {
		t.Fatalf("expected unequal values")
	}
}

func TestStructRoundTripJSON(t *testing.T) {
	reg := value.NewTypeRegistry()
	doc := []byte(`{"type":{"type":"Point","attributes":[{"x":"int32"},{"y":"int32"}]},"value":{"x":1,"y":2}}`)
	v, err := value.FromJSON(reg, doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	v2, err := value.FromJSON(reg, data)
	if err != nil {
		t.Fatalf("decode round-trip: %v", err)
	}
	if !v.Equal(v2) {
		t.Fatalf("round trip mismatch: %v vs %v", v, v2)
	}
	if !reg.Has("Point") {
		t.Fatalf("expected inline struct to register its name")
	}
}

func TestArrayRoundTripJSON(t *testing.T) {
	reg := value.NewTypeRegistry()
	doc := []byte(`{"type":{"type":"Ints","multiplicity":3,"element":"int32"},"value":[1,2,3]}`)
	v, err := value.FromJSON(reg, doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Kind() != value.KindArray {
		t.Fatalf("expected array kind")
	}
	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	v2, err := value.FromJSON(reg, data)
	if err != nil {
		t.Fatalf("decode round-trip: %v", err)
	}
	if !v.Equal(v2) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDottedPathAccess(t *testing.T) {
	reg := value.NewTypeRegistry()
	doc := []byte(`{"type":{"type":"Outer","attributes":[{"inner":{"type":"Inner","attributes":[{"v":"int32"}]}},{"items":{"type":"Items","multiplicity":2,"element":"int32"}}]},"value":{"inner":{"v":7},"items":[10,20]}}`)
	v, err := value.FromJSON(reg, doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := v.GetAt("inner.v")
	if err != nil {
		t.Fatalf("get inner.v: %v", err)
	}
	if i, _ := got.AsInt64(); i != 7 {
		t.Fatalf("expected 7, got %d", i)
	}
	got, err = v.GetAt("items[1]")
	if err != nil {
		t.Fatalf("get items[1]: %v", err)
	}
	if i, _ := got.AsInt64(); i != 20 {
		t.Fatalf("expected 20, got %d", i)
	}

	updated, err := v.SetAt("inner.v", value.NewInt32(99))
	if err != nil {
		t.Fatalf("set inner.v: %v", err)
	}
	got, _ = updated.GetAt("inner.v")
	if i, _ := got.AsInt64(); i != 99 {
		t.Fatalf("expected 99 after set, got %d", i)
	}
	// original is unmodified (copy-on-write semantics)
	orig, _ := v.GetAt("inner.v")
	if i, _ := orig.AsInt64(); i != 7 {
		t.Fatalf("expected original untouched, got %d", i)
	}
}

func TestWideningRules(t *testing.T) {
	v := value.NewInt32(5)
	widened, err := v.SetAt("", value.NewUint64(5))
	if err != nil {
		t.Fatalf("widen uint64->int32 in range: %v", err)
	}
	if i, _ := widened.AsInt64(); i != 5 {
		t.Fatalf("expected 5, got %d", i)
	}

	_, err = v.SetAt("", value.NewUint64(1<<40))
	if err == nil {
		t.Fatalf("expected overflow error widening out-of-range uint64 into int32")
	}
}

func TestIncrementDecrement(t *testing.T) {
	v := value.NewInt32(10)
	inc, err := v.Increment()
	if err != nil || mustInt(t, inc) != 11 {
		t.Fatalf("increment failed: %v", err)
	}
	dec, err := inc.Decrement()
	if err != nil || mustInt(t, dec) != 10 {
		t.Fatalf("decrement failed: %v", err)
	}
}

func mustInt(t *testing.T, v value.Value) int64 {
	t.Helper()
	i, err := v.AsInt64()
	if err != nil {
		t.Fatalf("AsInt64: %v", err)
	}
	return i
}

func TestTypeRegistryRejectsConflictingShape(t *testing.T) {
	reg := value.NewTypeRegistry()
	if err := reg.Register("Point", value.Type{Kind: value.KindStruct, Name: "Point", Members: []value.Member{{Name: "x", Type: value.Type{Kind: value.KindInt32}}}}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register("Point", value.Type{Kind: value.KindStruct, Name: "Point", Members: []value.Member{{Name: "x", Type: value.Type{Kind: value.KindInt32}}}}); err != nil {
		t.Fatalf("identical re-register should succeed: %v", err)
	}
	if err := reg.Register("Point", value.Type{Kind: value.KindStruct, Name: "Point", Members: []value.Member{{Name: "y", Type: value.Type{Kind: value.KindInt32}}}}); err == nil {
		t.Fatalf("expected conflicting shape to be rejected")
	}
}
