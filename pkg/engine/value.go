package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	// KindNull is the absent value.
	KindNull ValueKind = iota

	// KindString is a text scalar.
	KindString

	// KindBool is a boolean scalar.
	KindBool

	// KindInt is an integer scalar.
	KindInt

	// KindFloat is a floating-point scalar.
	KindFloat

	// KindSequence is an ordered list of values.
	KindSequence

	// KindMapping is a string-keyed collection of values.
	KindMapping
)

// String returns the kind name used in diagnostics.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is the tagged variant carrying every piece of DSL data: step params,
// context state, and template lookup results. A Value is a scalar (null,
// string, bool, int, float), a sequence, or a string-keyed mapping. Values are
// passed by value; use Clone before mutating a contained sequence or mapping
// that may be shared.
type Value struct {
	kind     ValueKind
	str      string
	boolean  bool
	integer  int64
	floating float64
	seq      []Value
	mapping  map[string]Value
}

// NullValue returns the null value.
func NullValue() Value {
	return Value{kind: KindNull}
}

// StringValue returns a string scalar.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// BoolValue returns a boolean scalar.
func BoolValue(b bool) Value {
	return Value{kind: KindBool, boolean: b}
}

// IntValue returns an integer scalar.
func IntValue(i int64) Value {
	return Value{kind: KindInt, integer: i}
}

// FloatValue returns a floating-point scalar.
func FloatValue(f float64) Value {
	return Value{kind: KindFloat, floating: f}
}

// SeqValue returns a sequence of the given items. The slice is owned by the
// returned value.
func SeqValue(items ...Value) Value {
	return Value{kind: KindSequence, seq: items}
}

// MapValue returns a mapping over m. The map is owned by the returned value.
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{kind: KindMapping, mapping: m}
}

// Kind returns the variant held by the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull returns true for the null value.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsString returns the string scalar, if the value is one.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString {
		return v.str, true
	}
	return "", false
}

// AsBool returns the boolean scalar, if the value is one.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.boolean, true
	}
	return false, false
}

// AsInt returns the value as an integer. Integral floats convert; everything
// else does not.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.integer, true
	case KindFloat:
		if v.floating == float64(int64(v.floating)) {
			return int64(v.floating), true
		}
	}
	return 0, false
}

// AsFloat returns the value as a float. Integers convert.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.integer), true
	case KindFloat:
		return v.floating, true
	}
	return 0, false
}

// AsSeq returns the sequence items, if the value is a sequence.
func (v Value) AsSeq() ([]Value, bool) {
	if v.kind == KindSequence {
		return v.seq, true
	}
	return nil, false
}

// AsMap returns the mapping, if the value is one.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind == KindMapping {
		return v.mapping, true
	}
	return nil, false
}

// Len returns the number of items in a sequence or mapping, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.mapping)
	default:
		return 0
	}
}

// Text renders the value for string substitution. Scalars render naturally;
// sequences and mappings render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindInt:
		return strconv.FormatInt(v.integer, 10)
	case KindFloat:
		return strconv.FormatFloat(v.floating, 'g', -1, 64)
	default:
		b, err := json.Marshal(v.ToGo())
		if err != nil {
			return fmt.Sprintf("%v", v.ToGo())
		}
		return string(b)
	}
}

// Lookup descends a dotted path through mappings and sequences. Sequence
// segments must be decimal indices. Returns false if any segment is missing.
func (v Value) Lookup(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	current := v
	for _, segment := range strings.Split(path, ".") {
		switch current.kind {
		case KindMapping:
			next, ok := current.mapping[segment]
			if !ok {
				return Value{}, false
			}
			current = next
		case KindSequence:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(current.seq) {
				return Value{}, false
			}
			current = current.seq[idx]
		default:
			return Value{}, false
		}
	}
	return current, true
}

// Get returns the mapping entry for key, or the null value.
func (v Value) Get(key string) Value {
	if v.kind != KindMapping {
		return NullValue()
	}
	if item, ok := v.mapping[key]; ok {
		return item
	}
	return NullValue()
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindSequence:
		items := make([]Value, len(v.seq))
		for i, item := range v.seq {
			items[i] = item.Clone()
		}
		return Value{kind: KindSequence, seq: items}
	case KindMapping:
		m := make(map[string]Value, len(v.mapping))
		for k, item := range v.mapping {
			m[k] = item.Clone()
		}
		return Value{kind: KindMapping, mapping: m}
	default:
		return v
	}
}

// Equal reports deep structural equality. Kinds must match exactly; an integer
// never equals a float.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.boolean == o.boolean
	case KindInt:
		return v.integer == o.integer
	case KindFloat:
		return v.floating == o.floating
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.mapping) != len(o.mapping) {
			return false
		}
		for k, item := range v.mapping {
			other, ok := o.mapping[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ValueFromGo builds a Value from a decoded YAML/JSON tree. Supported inputs
// are nil, booleans, strings, Go integer and float types, time.Time (rendered
// RFC 3339), []interface{}, map[string]interface{}, and Value itself.
func ValueFromGo(v interface{}) (Value, error) {
	switch t := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return t, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int8:
		return IntValue(int64(t)), nil
	case int16:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		return IntValue(int64(t)), nil
	case uint8:
		return IntValue(int64(t)), nil
	case uint16:
		return IntValue(int64(t)), nil
	case uint32:
		return IntValue(int64(t)), nil
	case uint64:
		if t > uint64(1<<63-1) {
			return FloatValue(float64(t)), nil
		}
		return IntValue(int64(t)), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case time.Time:
		return StringValue(t.UTC().Format(time.RFC3339)), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			converted, err := ValueFromGo(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return SeqValue(items...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			converted, err := ValueFromGo(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = converted
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToGo converts the value back into plain Go types: nil, string, bool, int64,
// float64, []interface{}, and map[string]interface{}.
func (v Value) ToGo() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindBool:
		return v.boolean
	case KindInt:
		return v.integer
	case KindFloat:
		return v.floating
	case KindSequence:
		items := make([]interface{}, len(v.seq))
		for i, item := range v.seq {
			items[i] = item.ToGo()
		}
		return items
	case KindMapping:
		m := make(map[string]interface{}, len(v.mapping))
		for k, item := range v.mapping {
			m[k] = item.ToGo()
		}
		return m
	default:
		return nil
	}
}

// Keys returns the mapping keys in sorted order, for deterministic iteration.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.mapping))
	for k := range v.mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToGo())
}

// UnmarshalJSON implements json.Unmarshaler. Numbers without a fractional part
// decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	converted, err := valueFromJSON(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func valueFromJSON(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return FloatValue(f), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			converted, err := valueFromJSON(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return SeqValue(items...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			converted, err := valueFromJSON(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = converted
		}
		return MapValue(m), nil
	default:
		return ValueFromGo(raw)
	}
}
