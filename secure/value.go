package secure

// Kind discriminates the variants of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged union over the JSON-shaped data the sanitizer traverses:
// null, string, number, bool, list, or map. It gives callers a typed
// alternative to map[string]any while keeping the "sanitize every string
// leaf" behavior.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func Null() Value { return Value{kind: KindNull} }

func Str(s string) Value { return Value{kind: KindString, str: s} }

func Num(f float64) Value { return Value{kind: KindNumber, num: f} }

func BoolVal(b bool) Value { return Value{kind: KindBool, b: b} }

func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func MapVal(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }

// StringVal returns the string payload; ok is false for non-string values.
func (v Value) StringVal() (string, bool) { return v.str, v.kind == KindString }

// NumberVal returns the numeric payload; ok is false for non-number values.
func (v Value) NumberVal() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the bool payload; ok is false for non-bool values.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns the list payload; nil for non-list values.
func (v Value) Items() []Value { return v.list }

// Fields returns the map payload; nil for non-map values.
func (v Value) Fields() map[string]Value { return v.m }

// FromAny converts JSON-decoded data into a Value. All Go numeric kinds map
// to KindNumber; unrecognized types map to KindNull.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case string:
		return Str(t)
	case bool:
		return BoolVal(t)
	case float64:
		return Num(t)
	case float32:
		return Num(float64(t))
	case int:
		return Num(float64(t))
	case int32:
		return Num(float64(t))
	case int64:
		return Num(float64(t))
	case uint:
		return Num(float64(t))
	case uint32:
		return Num(float64(t))
	case uint64:
		return Num(float64(t))
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return MapVal(m)
	default:
		return Null()
	}
}

// ToAny converts a Value back into JSON-shaped data.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Value sanitizes every string leaf of a Value tree. Null, number, and bool
// leaves pass through unchanged. The input is not mutated.
func (s *Sanitizer) Value(v Value) Value {
	return s.sanitizeValue(v, 0)
}

func (s *Sanitizer) sanitizeValue(v Value, depth int) Value {
	if !s.enabled || depth > maxSanitizeDepth {
		return v
	}
	switch v.kind {
	case KindString:
		return Str(s.String(v.str))
	case KindList:
		items := make([]Value, len(v.list))
		for i, e := range v.list {
			items[i] = s.sanitizeValue(e, depth+1)
		}
		return List(items...)
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			m[s.String(k)] = s.sanitizeValue(e, depth+1)
		}
		return MapVal(m)
	default:
		return v
	}
}
