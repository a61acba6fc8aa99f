package appendsheet

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// RecordsFromSlice converts a slice of structs (or pointers to structs) or a
// slice of map[string]interface{} into records of one shape.
//
// Struct fields are named by their `sheet` tag, falling back to the Go field
// name; a tag of "-" skips the field. Map-typed struct fields are flattened
// into name_key columns. Records missing a column seen elsewhere get Null for
// it, so the result is always homogeneous.
func RecordsFromSlice(data interface{}) ([]Record, error) {
	val := reflect.ValueOf(data)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected slice, got %v", val.Kind())
	}

	length := val.Len()
	flat := make([]map[string]interface{}, length)
	var columns []string
	seen := make(map[string]struct{})

	// First pass: flatten all items and collect columns in first-seen order
	for i := 0; i < length; i++ {
		elem := val.Index(i)
		for elem.Kind() == reflect.Ptr || elem.Kind() == reflect.Interface {
			elem = elem.Elem()
		}
		var (
			m    map[string]interface{}
			keys []string
			err  error
		)
		switch elem.Kind() {
		case reflect.Struct:
			m, keys, err = flattenStruct(elem)
		case reflect.Map:
			m, keys, err = flattenMap(elem)
		default:
			err = fmt.Errorf("expected slice of structs or maps, got slice of %v", elem.Kind())
		}
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		flat[i] = m
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}

	// Second pass: build records with every column present
	records := make([]Record, length)
	for i, m := range flat {
		b := NewRecord()
		for _, col := range columns {
			b.AddAny(col, m[col])
		}
		rec, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		records[i] = rec
	}
	return records, nil
}

// StaticCellsFromStruct turns one struct or map into static cells, using the
// same naming rules as RecordsFromSlice.
func StaticCellsFromStruct(data interface{}) ([]StaticCell, error) {
	records, err := RecordsFromSlice([]interface{}{data})
	if err != nil {
		return nil, err
	}
	rec := records[0]
	cells := make([]StaticCell, rec.Len())
	for i := range cells {
		name, v := rec.At(i)
		cells[i] = Cell(name, v)
	}
	return cells, nil
}

var timeType = reflect.TypeOf(time.Time{})

func flattenStruct(val reflect.Value) (map[string]interface{}, []string, error) {
	result := make(map[string]interface{})
	var keys []string

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		fieldName := fieldType.Name
		if tag := strings.SplitN(fieldType.Tag.Get("sheet"), ",", 2)[0]; tag == "-" {
			continue
		} else if tag != "" {
			fieldName = tag
		}
		field := val.Field(i)

		if field.Kind() == reflect.Map {
			// Flatten map fields with prefix
			if field.IsNil() {
				continue
			}
			sub, subKeys, err := flattenMap(field)
			if err != nil {
				return nil, nil, fmt.Errorf("field %s: %w", fieldName, err)
			}
			for _, k := range subKeys {
				flattenedKey := fmt.Sprintf("%s_%s", fieldName, k)
				result[flattenedKey] = sub[k]
				keys = append(keys, flattenedKey)
			}
			continue
		}
		if field.Kind() == reflect.Ptr && field.IsNil() {
			result[fieldName] = nil
		} else if field.Kind() == reflect.Ptr && field.Elem().Type() != timeType {
			result[fieldName] = field.Elem().Interface()
		} else {
			result[fieldName] = field.Interface()
		}
		keys = append(keys, fieldName)
	}
	return result, keys, nil
}

// flattenMap copies a string-keyed map; keys are sorted so records built from
// maps have a stable column order.
func flattenMap(val reflect.Value) (map[string]interface{}, []string, error) {
	if val.Type().Key().Kind() != reflect.String {
		return nil, nil, fmt.Errorf("map key must be string, got %v", val.Type().Key())
	}
	result := make(map[string]interface{}, val.Len())
	keys := make([]string, 0, val.Len())
	for _, k := range val.MapKeys() {
		key := k.String()
		result[key] = val.MapIndex(k).Interface()
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return result, keys, nil
}
