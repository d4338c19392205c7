// Package types defines the orchestration domain model and the schema-flexible
// Value documents carried by runs, attempts and audit entries.
package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies which member of the Value union is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union used for opaque structured documents (run config,
// input data, attempt metrics, audit details). Consumers validate it at the
// point of use. The zero Value is null.
//
// Numbers keep their JSON literal so a document round-trips byte for byte.
type Value struct {
	kind Kind
	b    bool
	num  string
	str  string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: KindNumber, num: strconv.FormatInt(n, 10)} }

// Float wraps a floating point number.
func Float(f float64) Value {
	return Value{kind: KindNumber, num: strconv.FormatFloat(f, 'g', -1, 64)}
}

// List wraps a list of values.
func List(items ...Value) Value {
	l := make([]Value, len(items))
	copy(l, items)
	return Value{kind: KindList, list: l}
}

// Map wraps a map of values. The map is copied.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// EmptyMap returns a map value with no fields.
func EmptyMap() Value { return Value{kind: KindMap, m: map[string]Value{}} }

// Strings wraps a string slice as a list.
func Strings(ss []string) Value {
	l := make([]Value, len(ss))
	for i, s := range ss {
		l[i] = String(s)
	}
	return Value{kind: KindList, list: l}
}

// Kind reports the populated member.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsFloat returns the number as float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.num, 64)
	return f, err == nil
}

// AsInt returns the number as int64 when it is integral.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.num, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(v.num, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

// AsList returns a copy of the list items.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out, true
}

// AsStrings returns the string members of a list, skipping anything else.
func (v Value) AsStrings() []string {
	if v.kind != KindList {
		return nil
	}
	out := make([]string, 0, len(v.list))
	for _, item := range v.list {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns the sorted field names of a map value.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a field of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[key]
	return f, ok
}

// Lookup walks nested maps.
func (v Value) Lookup(path ...string) (Value, bool) {
	cur := v
	for _, p := range path {
		next, ok := cur.Get(p)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// With returns a copy of a map value with key set. A non-map receiver is
// treated as an empty map.
func (v Value) With(key string, field Value) Value {
	m := make(map[string]Value, len(v.m)+1)
	if v.kind == KindMap {
		for k, f := range v.m {
			m[k] = f
		}
	}
	m[key] = field
	return Value{kind: KindMap, m: m}
}

// Without returns a copy of a map value with key removed.
func (v Value) Without(key string) Value {
	if v.kind != KindMap {
		return v
	}
	m := make(map[string]Value, len(v.m))
	for k, f := range v.m {
		if k != key {
			m[k] = f
		}
	}
	return Value{kind: KindMap, m: m}
}

// Merge returns a shallow merge of v and other; fields of other win.
func (v Value) Merge(other Value) Value {
	if other.kind != KindMap {
		return v
	}
	out := v
	if out.kind != KindMap {
		out = EmptyMap()
	}
	for k, f := range other.m {
		out = out.With(k, f)
	}
	return out
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.Canonical(), other.Canonical())
}

// Canonical returns the canonical JSON encoding: sorted keys, no whitespace.
func (v Value) Canonical() []byte {
	var buf bytes.Buffer
	v.encode(&buf)
	return buf.Bytes()
}

// Digest returns the hex sha256 of the canonical encoding.
func (v Value) Digest() string {
	sum := sha256.Sum256(v.Canonical())
	return hex.EncodeToString(sum[:])
}

func (v Value) encode(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.num)
	case KindString:
		s, _ := json.Marshal(v.str)
		buf.Write(s)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.encode(buf)
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			v.m[k].encode(buf)
		}
		buf.WriteByte('}')
	}
}

// MarshalJSON implements json.Marshaler with the canonical encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Canonical(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes JSON bytes. Empty input yields null.
func ParseValue(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Null(), nil
	}
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// FromAny converts decoded JSON (or plain Go scalars, slices and maps) to a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		return Value{kind: KindNumber, num: x.String()}, nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case []string:
		return Strings(x), nil
	case []Value:
		return List(x...), nil
	case map[string]Value:
		return Map(x), nil
	case map[string]string:
		m := make(map[string]Value, len(x))
		for k, s := range x {
			m[k] = String(s)
		}
		return Value{kind: KindMap, m: m}, nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = iv
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = iv
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// MustFromAny is FromAny for literals known to be convertible.
func MustFromAny(raw any) Value {
	v, err := FromAny(raw)
	if err != nil {
		panic(err)
	}
	return v
}
