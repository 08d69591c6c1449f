package value

import "fmt"

// Increment adds one to an integer or float scalar, returning the new Value.
func (v Value) Increment() (Value, error) {
	return v.step(1)
}

// Decrement subtracts one from an integer or float scalar, returning the new Value.
func (v Value) Decrement() (Value, error) {
	return v.step(-1)
}

func (v Value) step(delta int64) (Value, error) {
	switch v.typ.Kind {
	case KindFloat32:
		f, _ := v.AsFloat64()
		return NewFloat32(float32(f) + float32(delta)), nil
	case KindFloat64:
		f, _ := v.AsFloat64()
		return NewFloat64(f + float64(delta)), nil
	default:
		if !v.typ.Kind.isInteger() {
			return Value{}, fmt.Errorf("value: cannot increment/decrement kind %s", v.typ.Kind)
		}
		i, err := v.AsInt64()
		if err != nil {
			return Value{}, err
		}
		return intoIntRange(v.typ.Kind, i+delta)
	}
}
