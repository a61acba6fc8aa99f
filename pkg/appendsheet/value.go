package appendsheet

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind is the declared or runtime type of a cell value.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindInteger
	KindDecimal
	KindBoolean
	KindDate
)

var kindNames = map[Kind]string{
	KindNull:    "null",
	KindText:    "text",
	KindInteger: "integer",
	KindDecimal: "decimal",
	KindBoolean: "boolean",
	KindDate:    "date",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a schema kind token to a Kind. Tokens are case-insensitive.
func ParseKind(token string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "text", "string":
		return KindText, nil
	case "integer", "int", "long":
		return KindInteger, nil
	case "decimal", "number", "double", "float":
		return KindDecimal, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "date", "datetime":
		return KindDate, nil
	}
	return KindNull, fmt.Errorf("unknown kind %q", token)
}

// Value is a closed variant over the cell types the engine can write.
// The zero Value is Null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func Null() Value               { return Value{} }
func Text(s string) Value       { return Value{kind: KindText, s: s} }
func Integer(i int64) Value     { return Value{kind: KindInteger, i: i} }
func Decimal(f float64) Value   { return Value{kind: KindDecimal, f: f} }
func Boolean(b bool) Value      { return Value{kind: KindBoolean, b: b} }
func Date(t time.Time) Value    { return Value{kind: KindDate, t: t} }
func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Text() string    { return v.s }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Bool() bool      { return v.b }
func (v Value) Time() time.Time { return v.t }

// Interface returns the value as the Go type excelize expects for SetCellValue.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindText:
		return v.s
	case KindInteger:
		return v.i
	case KindDecimal:
		return v.f
	case KindBoolean:
		return v.b
	case KindDate:
		return v.t
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.s
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindDecimal:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format(time.RFC3339)
	}
	return ""
}

// ValueOf converts a dynamic Go value (decoded JSON, a scanned SQL column, a
// struct field) into a Value.
func ValueOf(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return Text(t), nil
	case []byte:
		return Text(string(t)), nil
	case bool:
		return Boolean(t), nil
	case int:
		return Integer(int64(t)), nil
	case int8:
		return Integer(int64(t)), nil
	case int16:
		return Integer(int64(t)), nil
	case int32:
		return Integer(int64(t)), nil
	case int64:
		return Integer(t), nil
	case uint8:
		return Integer(int64(t)), nil
	case uint16:
		return Integer(int64(t)), nil
	case uint32:
		return Integer(int64(t)), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Null(), fmt.Errorf("integer %d overflows int64", t)
		}
		return Integer(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Null(), fmt.Errorf("integer %d overflows int64", t)
		}
		return Integer(int64(t)), nil
	case float32:
		return Decimal(float64(t)), nil
	case float64:
		return Decimal(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Decimal(f), nil
	case time.Time:
		return Date(t), nil
	case *time.Time:
		if t == nil {
			return Null(), nil
		}
		return Date(*t), nil
	case *string:
		if t == nil {
			return Null(), nil
		}
		return Text(*t), nil
	}
	// named types such as `type Status string`
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Bool:
		return Boolean(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(rv.Int()), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return Integer(int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Decimal(rv.Float()), nil
	}
	return Null(), fmt.Errorf("unsupported value type %T", x)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// coerce converts a text value into the requested kind. Non-text values and
// text targets are returned unchanged.
func coerce(v Value, target Kind) (Value, error) {
	if v.kind != KindText || target == KindText {
		return v, nil
	}
	s := strings.TrimSpace(v.s)
	if s == "" {
		return Null(), nil
	}
	switch target {
	case KindInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return v, err
		}
		return Integer(i), nil
	case KindDecimal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return v, err
		}
		return Decimal(f), nil
	case KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return v, err
		}
		return Boolean(b), nil
	case KindDate:
		var lastErr error
		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return Date(t), nil
			}
			lastErr = err
		}
		return v, lastErr
	}
	return v, nil
}
