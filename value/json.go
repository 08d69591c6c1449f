package value

import (
	"encoding/json"
	"fmt"
)

// typeSpec is the JSON shape of a type declaration: either a bare name
// (primitive or previously registered) or an inline compound definition.
// See spec §6: {"type": "name", "attributes": [...]} for struct,
// {"type": "name", "multiplicity": N, "element": {...}} for array.
type typeSpec struct {
	Type         string           `json:"type"`
	Attributes   []map[string]any `json:"attributes,omitempty"`
	Multiplicity int              `json:"multiplicity,omitempty"`
	Element      json.RawMessage  `json:"element,omitempty"`
}

// envelope is the JSON shape of a Value: {"type": <typeSpec>, "value": <literal>}.
type envelope struct {
	Type  json.RawMessage `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// FromJSON constructs a Value from the {"type":..., "value":...} encoding,
// resolving named types (and registering inline ones) against reg.
func FromJSON(reg *TypeRegistry, data []byte) (Value, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Value{}, fmt.Errorf("value: decode envelope: %w", err)
	}
	t, err := resolveTypeSpec(reg, env.Type)
	if err != nil {
		return Value{}, err
	}
	if len(env.Value) == 0 {
		return defaultValue(t)
	}
	return valueFromLiteral(t, env.Value)
}

func resolveTypeSpec(reg *TypeRegistry, raw json.RawMessage) (Type, error) {
	if len(raw) == 0 {
		return Type{}, fmt.Errorf("value: missing type specification")
	}
	// A bare JSON string names a primitive or previously registered type.
	var bareName string
	if err := json.Unmarshal(raw, &bareName); err == nil {
		if k, ok := primitiveKinds[bareName]; ok {
			return Type{Kind: k}, nil
		}
		if reg != nil {
			if t, ok := reg.Lookup(bareName); ok {
				return t, nil
			}
		}
		return Type{}, fmt.Errorf("value: unknown type name %q", bareName)
	}

	var spec typeSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Type{}, fmt.Errorf("value: decode type spec: %w", err)
	}

	switch {
	case len(spec.Attributes) > 0:
		members := make([]Member, 0, len(spec.Attributes))
		for _, attr := range spec.Attributes {
			for memberName, memberTypeRaw := range attr {
				memberTypeBytes, err := json.Marshal(memberTypeRaw)
				if err != nil {
					return Type{}, err
				}
				memberType, err := resolveTypeSpec(reg, memberTypeBytes)
				if err != nil {
					return Type{}, err
				}
				members = append(members, Member{Name: memberName, Type: memberType})
			}
		}
		t := Type{Kind: KindStruct, Name: spec.Type, Members: members}
		if reg != nil && spec.Type != "" {
			if err := reg.Register(spec.Type, t); err != nil {
				return Type{}, err
			}
		}
		return t, nil
	case len(spec.Element) > 0:
		elemType, err := resolveTypeSpec(reg, spec.Element)
		if err != nil {
			return Type{}, err
		}
		t := Type{Kind: KindArray, Name: spec.Type, Elem: &elemType, Count: spec.Multiplicity}
		if reg != nil && spec.Type != "" {
			if err := reg.Register(spec.Type, t); err != nil {
				return Type{}, err
			}
		}
		return t, nil
	default:
		if k, ok := primitiveKinds[spec.Type]; ok {
			return Type{Kind: k}, nil
		}
		if reg != nil {
			if t, ok := reg.Lookup(spec.Type); ok {
				return t, nil
			}
		}
		return Type{}, fmt.Errorf("value: unknown type name %q", spec.Type)
	}
}

func valueFromLiteral(t Type, raw json.RawMessage) (Value, error) {
	switch t.Kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, err
		}
		return NewBool(b), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return NewString(s), nil
	case KindFloat32:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, err
		}
		return NewFloat32(float32(f)), nil
	case KindFloat64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, err
		}
		return NewFloat64(f), nil
	case KindInt8, KindInt16, KindInt32, KindInt64,
		KindUint8, KindUint16, KindUint32, KindUint64:
		var i int64
		if err := json.Unmarshal(raw, &i); err != nil {
			return Value{}, err
		}
		return intoIntRange(t.Kind, i)
	case KindStruct:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Value{}, err
		}
		values := make([]Value, len(t.Members))
		for i, m := range t.Members {
			fieldRaw, ok := fields[m.Name]
			if !ok {
				zeroVal, err := defaultValue(m.Type)
				if err != nil {
					return Value{}, fmt.Errorf("value: missing member %q: %w", m.Name, err)
				}
				values[i] = zeroVal
				continue
			}
			v, err := valueFromLiteral(m.Type, fieldRaw)
			if err != nil {
				return Value{}, fmt.Errorf("value: member %q: %w", m.Name, err)
			}
			values[i] = v
		}
		return NewStruct(t.Name, t.Members, values)
	case KindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Value{}, err
		}
		elements := make([]Value, len(items))
		for i, item := range items {
			v, err := valueFromLiteral(*t.Elem, item)
			if err != nil {
				return Value{}, fmt.Errorf("value: element %d: %w", i, err)
			}
			elements[i] = v
		}
		return NewArray(t.Name, *t.Elem, elements)
	default:
		return Value{}, fmt.Errorf("value: cannot decode literal for kind %s", t.Kind)
	}
}

func defaultValue(t Type) (Value, error) {
	switch t.Kind {
	case KindStruct:
		values := make([]Value, len(t.Members))
		for i, m := range t.Members {
			v, err := defaultValue(m.Type)
			if err != nil {
				return Value{}, err
			}
			values[i] = v
		}
		return NewStruct(t.Name, t.Members, values)
	case KindArray:
		elements := make([]Value, t.Count)
		for i := range elements {
			v, err := defaultValue(*t.Elem)
			if err != nil {
				return Value{}, err
			}
			elements[i] = v
		}
		return NewArray(t.Name, *t.Elem, elements)
	default:
		return Zero(t.Kind)
	}
}

// MarshalJSON renders v back into the {"type":..., "value":...} envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	typeJSON, err := typeToJSON(v.typ)
	if err != nil {
		return nil, err
	}
	valueJSON, err := literalToJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type  json.RawMessage `json:"type"`
		Value json.RawMessage `json:"value"`
	}{Type: typeJSON, Value: valueJSON})
}

func typeToJSON(t Type) (json.RawMessage, error) {
	switch t.Kind {
	case KindStruct:
		attrs := make([]map[string]any, 0, len(t.Members))
		for _, m := range t.Members {
			memberType, err := typeToJSON(m.Type)
			if err != nil {
				return nil, err
			}
			var decoded any
			if err := json.Unmarshal(memberType, &decoded); err != nil {
				return nil, err
			}
			attrs = append(attrs, map[string]any{m.Name: decoded})
		}
		name := t.Name
		if name == "" {
			name = "struct"
		}
		return json.Marshal(typeSpec{Type: name, Attributes: attrs})
	case KindArray:
		elemJSON, err := typeToJSON(*t.Elem)
		if err != nil {
			return nil, err
		}
		var decoded typeSpec
		// element may itself be a bare name; represent generically.
		var bare any
		if err := json.Unmarshal(elemJSON, &bare); err == nil {
			if m, ok := bare.(map[string]any); ok {
				b, _ := json.Marshal(m)
				_ = json.Unmarshal(b, &decoded)
			}
		}
		name := t.Name
		if name == "" {
			name = "array"
		}
		return json.Marshal(map[string]any{
			"type":         name,
			"multiplicity": t.Count,
			"element":      json.RawMessage(elemJSON),
		})
	default:
		return json.Marshal(t.Kind.String())
	}
}

func literalToJSON(v Value) (json.RawMessage, error) {
	switch v.typ.Kind {
	case KindStruct:
		fields := make(map[string]json.RawMessage, len(v.members))
		for i, m := range v.typ.Members {
			raw, err := literalToJSON(v.members[i])
			if err != nil {
				return nil, err
			}
			fields[m.Name] = raw
		}
		return json.Marshal(fields)
	case KindArray:
		items := make([]json.RawMessage, len(v.elements))
		for i, e := range v.elements {
			raw, err := literalToJSON(e)
			if err != nil {
				return nil, err
			}
			items[i] = raw
		}
		return json.Marshal(items)
	default:
		return json.Marshal(v.scalar)
	}
}
