package columns_test

import (
	"testing"

	"github.com/jswidler/tenantrun/rundb/internal/columns"
	"github.com/stretchr/testify/assert"
)

type row struct {
	Id       string `db:"id"`
	Name     string `db:"name"`
	Ignored  string
	Skipped  string `db:"-"`
	Count    int    `db:"count,omitempty"`
	internal int
}

func TestOf(t *testing.T) {
	cols := columns.Of(&row{Id: "a", Name: "n", Count: 3})
	assert.Equal(t, 3, cols.Len())
	assert.Equal(t, `"id", "name", "count"`, cols.Columns())
	assert.Equal(t, "$2, $3, $4", cols.ColumnsPlaceholder(2))
	assert.Equal(t, ":id, :name, :count", cols.ColumnsNamedPlaceholder())
	assert.Equal(t, []any{"a", "n", 3}, cols.Values())
	assert.Equal(t, map[string]any{"id": "a", "name": "n", "count": 3}, cols.Map())
}

func TestSetAndWithout(t *testing.T) {
	cols := columns.Of(row{Id: "a", Name: "n"})
	cols.Set("name", "renamed")
	cols.Set("missing", 1)

	v, ok := cols.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "renamed", v)
	_, ok = cols.Get("missing")
	assert.False(t, ok)

	trimmed := cols.Without("id", "count")
	assert.Equal(t, `"name"`, trimmed.Columns())
	assert.Equal(t, 3, cols.Len())
}

func TestOfNonStruct(t *testing.T) {
	assert.Panics(t, func() { columns.Of(42) })
}
