package value

import (
	"fmt"
	"strconv"
)

// FromLiteralString parses raw (a plain, unquoted attribute string — never
// JSON) into a Value of the given scalar type. Struct and array types are
// rejected: attribute literals are always scalar (§4.4); compound values
// flow through the JSON envelope instead.
func FromLiteralString(reg *TypeRegistry, t Type, raw string) (Value, error) {
	switch t.Kind {
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("value: parse bool %q: %w", raw, err)
		}
		return NewBool(b), nil
	case KindString:
		return NewString(raw), nil
	case KindFloat32:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return Value{}, fmt.Errorf("value: parse float32 %q: %w", raw, err)
		}
		return NewFloat32(float32(f)), nil
	case KindFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("value: parse float64 %q: %w", raw, err)
		}
		return NewFloat64(f), nil
	case KindInt8, KindInt16, KindInt32, KindInt64,
		KindUint8, KindUint16, KindUint32, KindUint64:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(raw, 10, 64)
			if uerr != nil {
				return Value{}, fmt.Errorf("value: parse %s %q: %w", t.Kind, raw, err)
			}
			return intoIntRange(t.Kind, int64(u))
		}
		return intoIntRange(t.Kind, i)
	default:
		return Value{}, fmt.Errorf("value: %s is not a scalar literal type", t.Kind)
	}
}
