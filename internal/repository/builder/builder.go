package builder

import (
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether name is a plain (optionally schema
// qualified) SQL identifier that can be interpolated into a query.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

var orderPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)(\s+(?i:ASC|DESC))?$`)

// ValidOrder reports whether order is "column" or "column ASC|DESC".
func ValidOrder(order string) bool {
	m := orderPattern.FindStringSubmatch(strings.TrimSpace(order))
	return m != nil && ValidIdentifier(m[1])
}

// SQLBuilder constructs SELECT statements with numbered ($1, $2, ...)
// placeholders.
type SQLBuilder struct {
	table   string
	columns []string
	where   []condition
	orderBy []string
	limit   int
	offset  int
}

type condition struct {
	sql  string
	args []interface{}
	// set by WhereOp
	filter bool
	column string
	op     string
	value  interface{}
}

// operators maps accepted WhereOp operators to their SQL spelling.
var operators = map[string]string{
	"=":           "=",
	"!=":          "<>",
	"<>":          "<>",
	"<":           "<",
	"<=":          "<=",
	">":           ">",
	">=":          ">=",
	"like":        "LIKE",
	"not like":    "NOT LIKE",
	"in":          "IN",
	"is null":     "IS NULL",
	"is not null": "IS NOT NULL",
}

// ValidOperator reports whether op is accepted by WhereOp.
func ValidOperator(op string) bool {
	_, ok := operators[normalizeOp(op)]
	return ok
}

func normalizeOp(op string) string {
	return strings.ToLower(strings.Join(strings.Fields(op), " "))
}

// render turns a WhereOp condition into SQL with "?" markers.
func (c condition) render() (string, []interface{}) {
	if !c.filter {
		return c.sql, c.args
	}
	op, ok := operators[normalizeOp(c.op)]
	if !ok {
		op = c.op
	}
	switch op {
	case "IS NULL", "IS NOT NULL":
		return c.column + " " + op, nil
	case "IN":
		list, ok := c.value.([]interface{})
		if !ok {
			list = []interface{}{c.value}
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
		return c.column + " IN (" + marks + ")", list
	}
	return c.column + " " + op + " ?", []interface{}{c.value}
}

// NewSQLBuilder creates a new instance of SQLBuilder.
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{}
}

// Select specifies the columns to retrieve.
func (b *SQLBuilder) Select(cols ...string) *SQLBuilder {
	b.columns = cols
	return b
}

// From specifies the table to select from.
func (b *SQLBuilder) From(table string) *SQLBuilder {
	b.table = table
	return b
}

// Where adds a condition written with "?" markers. Conditions are combined
// with AND; an empty condition is ignored. The text is trusted; caller input
// goes through WhereOp.
func (b *SQLBuilder) Where(cond string, args ...interface{}) *SQLBuilder {
	if strings.TrimSpace(cond) == "" {
		return b
	}
	b.where = append(b.where, condition{sql: cond, args: args})
	return b
}

// WhereOp adds the condition "column op value". The column and operator are
// checked by BuildSafe and the value is always bound as an argument. For
// "in" pass a []interface{}; the null checks ignore value.
func (b *SQLBuilder) WhereOp(column, op string, value interface{}) *SQLBuilder {
	b.where = append(b.where, condition{filter: true, column: column, op: op, value: value})
	return b
}

// OrderBy adds an ORDER BY clause.
func (b *SQLBuilder) OrderBy(order string) *SQLBuilder {
	if order != "" {
		b.orderBy = append(b.orderBy, order)
	}
	return b
}

// Limit adds a LIMIT clause.
func (b *SQLBuilder) Limit(limit int) *SQLBuilder {
	b.limit = limit
	return b
}

// Offset adds an OFFSET clause.
func (b *SQLBuilder) Offset(offset int) *SQLBuilder {
	b.offset = offset
	return b
}

// Build constructs the final SQL string and arguments.
func (b *SQLBuilder) Build() (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	if len(b.where) > 0 {
		argIndex := 1
		conds := make([]string, len(b.where))
		for i, c := range b.where {
			cond, condArgs := c.render()
			conds[i] = number(cond, &argIndex)
			args = append(args, condArgs...)
		}
		sb.WriteString(" WHERE ")
		if len(conds) == 1 {
			sb.WriteString(conds[0])
		} else {
			sb.WriteString("(" + strings.Join(conds, ") AND (") + ")")
		}
	}

	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", b.limit))
	}
	if b.offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", b.offset))
	}
	return sb.String(), args
}

// BuildSafe is Build plus checks: the table, columns, WhereOp columns and
// ORDER BY terms must be plain identifiers, WhereOp operators must be known
// and every "?" must have an argument.
func (b *SQLBuilder) BuildSafe() (string, []interface{}, error) {
	if !ValidIdentifier(b.table) {
		return "", nil, fmt.Errorf("invalid table name %q", b.table)
	}
	for _, c := range b.columns {
		if !ValidIdentifier(c) {
			return "", nil, fmt.Errorf("invalid column name %q", c)
		}
	}
	for _, o := range b.orderBy {
		if !ValidOrder(o) {
			return "", nil, fmt.Errorf("invalid order by %q", o)
		}
	}
	for _, c := range b.where {
		if c.filter {
			if err := c.check(); err != nil {
				return "", nil, err
			}
			continue
		}
		if n := strings.Count(c.sql, "?"); n != len(c.args) {
			return "", nil, fmt.Errorf("placeholder count (%d) does not match argument count (%d) in %q", n, len(c.args), c.sql)
		}
	}
	sql, args := b.Build()
	return sql, args, nil
}

func (c condition) check() error {
	if !ValidIdentifier(c.column) {
		return fmt.Errorf("invalid filter column %q", c.column)
	}
	op := normalizeOp(c.op)
	if _, ok := operators[op]; !ok {
		return fmt.Errorf("unsupported operator %q on %s", c.op, c.column)
	}
	switch op {
	case "is null", "is not null":
	case "in":
		list, ok := c.value.([]interface{})
		if !ok || len(list) == 0 {
			return fmt.Errorf("operator in on %s needs a non-empty list", c.column)
		}
	default:
		if c.value == nil {
			return fmt.Errorf("operator %q on %s needs a value, use \"is null\"", c.op, c.column)
		}
	}
	return nil
}

// number replaces each "?" in cond with the next $n.
func number(cond string, argIndex *int) string {
	parts := strings.Split(cond, "?")
	var sb strings.Builder
	for i, part := range parts {
		sb.WriteString(part)
		if i < len(parts)-1 {
			sb.WriteString(fmt.Sprintf("$%d", *argIndex))
			*argIndex++
		}
	}
	return sb.String()
}
