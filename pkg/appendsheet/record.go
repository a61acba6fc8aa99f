package appendsheet

import (
	"errors"
	"fmt"
)

// StaticCell is a standalone label/value pair written by a static block.
type StaticCell struct {
	Name  string
	Value Value
}

// Cell is shorthand for building a StaticCell.
func Cell(name string, v Value) StaticCell {
	return StaticCell{Name: name, Value: v}
}

// Record is an immutable ordered set of named values. Field order is the
// order the builder received them in.
type Record struct {
	names  []string
	values []Value
	index  map[string]int
}

func (r Record) Len() int { return len(r.names) }

// Names returns a copy of the field names in insertion order.
func (r Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Null(), false
	}
	return r.values[i], true
}

// At returns the i-th field name and value.
func (r Record) At(i int) (string, Value) {
	return r.names[i], r.values[i]
}

func (r Record) sameShape(o Record) bool {
	if len(r.names) != len(o.names) {
		return false
	}
	for i := range r.names {
		if r.names[i] != o.names[i] {
			return false
		}
	}
	return true
}

var errBuilderConsumed = errors.New("record builder already built")

// RecordBuilder accumulates cells for one Record. Add calls chain; the first
// problem is remembered and reported by Build.
type RecordBuilder struct {
	names  []string
	values []Value
	seen   map[string]struct{}
	err    error
	built  bool
}

func NewRecord() *RecordBuilder {
	return &RecordBuilder{seen: make(map[string]struct{})}
}

// Add appends a named value.
func (b *RecordBuilder) Add(name string, v Value) *RecordBuilder {
	if b.err != nil {
		return b
	}
	if b.built {
		b.err = errBuilderConsumed
		return b
	}
	if name == "" {
		b.err = errors.New("record field name is empty")
		return b
	}
	if _, dup := b.seen[name]; dup {
		b.err = fmt.Errorf("duplicate record field %q", name)
		return b
	}
	b.seen[name] = struct{}{}
	b.names = append(b.names, name)
	b.values = append(b.values, v)
	return b
}

// AddAny converts x with ValueOf before adding it.
func (b *RecordBuilder) AddAny(name string, x interface{}) *RecordBuilder {
	v, err := ValueOf(x)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("field %q: %w", name, err)
		}
		return b
	}
	return b.Add(name, v)
}

// Build finalizes the record. The builder cannot be reused afterwards.
func (b *RecordBuilder) Build() (Record, error) {
	if b.err != nil {
		return Record{}, b.err
	}
	if b.built {
		return Record{}, errBuilderConsumed
	}
	b.built = true
	r := Record{
		names:  b.names,
		values: b.values,
		index:  make(map[string]int, len(b.names)),
	}
	for i, n := range b.names {
		r.index[n] = i
	}
	b.names, b.values, b.seen = nil, nil, nil
	return r, nil
}

// MustBuild is Build for fixtures and literals known to be valid.
func (b *RecordBuilder) MustBuild() Record {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}
