package record

// ScalarFunc transforms a scalar found under field. Array elements inherit the
// field name of the array that holds them; top-level scalars get rootField.
type ScalarFunc func(field string, v Value) Value

// Walk rebuilds v bottom-up, applying fn to every scalar. Object and array
// shapes are preserved exactly: no keys are added, dropped or renamed.
func Walk(v Value, rootField string, fn ScalarFunc) Value {
	switch v.kind {
	case KindObject:
		out := make(Fields, len(v.obj))
		for k, f := range v.obj {
			out[k] = Walk(f, k, fn)
		}
		return Object(out)
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = Walk(item, rootField, fn)
		}
		return Array(out...)
	default:
		return fn(rootField, v)
	}
}

// Count returns the number of scalars in v
func Count(v Value) int {
	n := 0
	Walk(v, "", func(_ string, s Value) Value {
		n++
		return s
	})
	return n
}
