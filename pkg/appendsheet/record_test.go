package appendsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBuilder(t *testing.T) {
	r, err := NewRecord().
		Add("b", Text("x")).
		AddAny("a", 3).
		AddAny("c", nil).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"b", "a", "c"}, r.Names(), "insertion order is kept")

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, Integer(3), v)

	v, ok = r.Get("c")
	require.True(t, ok)
	assert.True(t, v.IsNull())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	name, v := r.At(0)
	assert.Equal(t, "b", name)
	assert.Equal(t, Text("x"), v)
}

func TestRecordNamesIsACopy(t *testing.T) {
	r := NewRecord().Add("a", Null()).MustBuild()
	names := r.Names()
	names[0] = "changed"
	assert.Equal(t, []string{"a"}, r.Names())
}

func TestRecordBuilderErrors(t *testing.T) {
	_, err := NewRecord().Add("a", Null()).Add("a", Null()).Build()
	assert.ErrorContains(t, err, `duplicate record field "a"`)

	_, err = NewRecord().Add("", Null()).Build()
	assert.Error(t, err)

	_, err = NewRecord().AddAny("x", struct{}{}).Add("y", Null()).Build()
	assert.ErrorContains(t, err, `field "x"`)

	b := NewRecord().Add("a", Null())
	_, err = b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	assert.ErrorIs(t, err, errBuilderConsumed)
	_, err = b.Add("b", Null()).Build()
	assert.ErrorIs(t, err, errBuilderConsumed)

	assert.Panics(t, func() { NewRecord().Add("", Null()).MustBuild() })
}

func TestRecordSameShape(t *testing.T) {
	ab := NewRecord().Add("a", Null()).Add("b", Null()).MustBuild()
	ab2 := NewRecord().Add("a", Integer(1)).Add("b", Text("x")).MustBuild()
	ba := NewRecord().Add("b", Null()).Add("a", Null()).MustBuild()
	a := NewRecord().Add("a", Null()).MustBuild()

	assert.True(t, ab.sameShape(ab2))
	assert.False(t, ab.sameShape(ba), "order matters")
	assert.False(t, ab.sameShape(a))
}
