package contextstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags the shape held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k ValueKind) String() string {
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
	case KindObject:
		return "object"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a JSON document. The store treats it as opaque except when
// appending to a named list inside an object. The zero Value is null.
// Numbers keep their literal text so round-trips are lossless.
type Value struct {
	kind ValueKind
	b    bool
	s    string
	list []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(n int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(n, 10)} }
func Number(n json.Number) Value { return Value{kind: KindNumber, s: n.String()} }

// Float builds a number from f using the shortest representation.
func Float(f float64) Value {
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// List builds a list value; the items are copied.
func List(items ...Value) Value {
	list := make([]Value, len(items))
	for i, item := range items {
		list[i] = item.Clone()
	}
	return Value{kind: KindList, list: list}
}

// Object builds an object value; the fields are copied.
func Object(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v.Clone()
	}
	return Value{kind: KindObject, obj: obj}
}

// EmptyObject returns {}.
func EmptyObject() Value {
	return Value{kind: KindObject, obj: map[string]Value{}}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsNumber() (json.Number, bool) {
	return json.Number(v.s), v.kind == KindNumber
}

// AsList returns a copy of the list items.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return List(v.list...).list, true
}

// AsObject returns a copy of the object fields.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return Object(v.obj).obj, true
}

// Field returns the named field of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	field, ok := v.obj[name]
	if !ok {
		return Value{}, false
	}
	return field.Clone(), true
}

// Len reports the number of list items or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindObject:
		return len(v.obj)
	}
	return 0
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		return List(v.list...)
	case KindObject:
		return Object(v.obj)
	}
	return v
}

// Equal reports deep equality. Numbers compare by literal text.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber, KindString:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, field := range v.obj {
			otherField, ok := other.obj[k]
			if !ok || !field.Equal(otherField) {
				return false
			}
		}
		return true
	}
	return false
}

// withField returns a copy of an object value with name set to field.
func (v Value) withField(name string, field Value) Value {
	next := Object(v.obj)
	next.obj[name] = field
	return next
}

// appendItem returns a copy of a list value with item appended.
func (v Value) appendItem(item Value) Value {
	next := List(v.list...)
	next.list = append(next.list, item.Clone())
	return next
}

// Interface converts v into plain Go values (nil, bool, json.Number,
// string, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.s)
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, field := range v.obj {
			out[k] = field.Interface()
		}
		return out
	}
	return nil
}

// FromInterface converts decoded JSON or plain Go values into a Value.
func FromInterface(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed.Clone(), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		return Number(typed), nil
	case string:
		return String(typed), nil
	case int:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case float64:
		return Float(typed), nil
	case []any:
		list := make([]Value, len(typed))
		for i, item := range typed {
			converted, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			list[i] = converted
		}
		return Value{kind: KindList, list: list}, nil
	case []Value:
		return List(typed...), nil
	case map[string]any:
		obj := make(map[string]Value, len(typed))
		for k, item := range typed {
			converted, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = converted
		}
		return Value{kind: KindObject, obj: obj}, nil
	case map[string]Value:
		return Object(typed), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// MustFromInterface is FromInterface for literals in tests and defaults.
func MustFromInterface(raw any) Value {
	v, err := FromInterface(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseValue decodes a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode value: trailing data")
	}
	converted, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}
