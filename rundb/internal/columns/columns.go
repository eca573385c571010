// Package columns reflects `db` tagged struct fields into ordered column lists for
// building insert and update statements.
package columns

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

type column struct {
	name string
	val  any
}

type Columns struct {
	cs []column
}

// Of returns the db columns of a struct, or a pointer to one. Fields without a db tag, or
// tagged "-", are skipped. Anything other than a struct is a programming error.
func Of(ob any) Columns {
	v := reflect.ValueOf(ob)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		panic(fmt.Sprintf("unable to get db columns from type %s", v.Kind()))
	}

	t := v.Type()
	l := make([]column, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("db"), ",")
		if name != "" && name != "-" {
			l = append(l, column{name, v.Field(i).Interface()})
		}
	}
	return Columns{l}
}

func (c Columns) Len() int {
	return len(c.cs)
}

// Columns returns the quoted, comma separated column names, e.g. "col1", "col2".
// Names are not checked to be safe.
func (c Columns) Columns() string {
	if len(c.cs) == 0 {
		return ""
	}
	names := make([]string, len(c.cs))
	for i := range c.cs {
		names[i] = c.cs[i].name
	}
	return `"` + strings.Join(names, `", "`) + `"`
}

// ColumnsPlaceholder numbers one placeholder per column starting at from, e.g. "$2, $3".
func (c Columns) ColumnsPlaceholder(from int) string {
	s := make([]string, len(c.cs))
	for i := range c.cs {
		s[i] = fmt.Sprintf("$%d", i+from)
	}
	return strings.Join(s, ", ")
}

func (c Columns) ColumnsNamedPlaceholder() string {
	s := make([]string, len(c.cs))
	for i := range c.cs {
		s[i] = ":" + c.cs[i].name
	}
	return strings.Join(s, ", ")
}

func (c Columns) Get(name string) (any, bool) {
	for _, col := range c.cs {
		if col.name == name {
			return col.val, true
		}
	}
	return nil, false
}

func (c Columns) Values() []any {
	v := make([]any, len(c.cs))
	for i := range c.cs {
		v[i] = c.cs[i].val
	}
	return v
}

func (c Columns) Map() map[string]any {
	m := make(map[string]any, len(c.cs))
	for i := range c.cs {
		m[c.cs[i].name] = c.cs[i].val
	}
	return m
}

// Set replaces the value of an existing column. Unknown names are ignored.
func (c Columns) Set(name string, value any) {
	for i := range c.cs {
		if c.cs[i].name == name {
			c.cs[i].val = value
			return
		}
	}
}

// Without returns a copy of c minus the named columns.
func (c Columns) Without(names ...string) Columns {
	r := make([]column, 0, len(c.cs))
	for _, col := range c.cs {
		if !slices.Contains(names, col.name) {
			r = append(r, col)
		}
	}
	return Columns{r}
}
