package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

// normalizeArg turns decoded JSON numbers, also inside lists, into values
// drivers understand.
func normalizeArg(a interface{}) interface{} {
	switch v := a.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = normalizeArg(e)
		}
		return out
	}
	return a
}

// splitOrder parses "field", "field asc" or "field desc".
func splitOrder(order string) (field string, desc bool, err error) {
	parts := strings.Fields(order)
	switch {
	case len(parts) == 0:
		return "", false, nil
	case len(parts) == 1:
		return parts[0], false, nil
	case len(parts) == 2 && strings.EqualFold(parts[1], "asc"):
		return parts[0], false, nil
	case len(parts) == 2 && strings.EqualFold(parts[1], "desc"):
		return parts[0], true, nil
	}
	return "", false, fmt.Errorf("invalid order by %q", order)
}

// listValue returns the elements of an "in" filter value.
func listValue(f domain.Filter) ([]interface{}, error) {
	list, ok := normalizeArg(f.Value).([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("operator in on %s needs a non-empty list", f.Column)
	}
	return list, nil
}

// recordFromFields builds a record in column order; columns missing from
// fields become nulls.
func recordFromFields(q domain.QuerySpec, n int, fields map[string]interface{}) (appendsheet.Record, error) {
	b := appendsheet.NewRecord()
	for _, col := range q.Columns {
		b.AddAny(col, fields[col])
	}
	rec, err := b.Build()
	if err != nil {
		return appendsheet.Record{}, fmt.Errorf("%s record %d: %w", q.Table, n, err)
	}
	return rec, nil
}
