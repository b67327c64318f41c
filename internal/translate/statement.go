package translate

import "strings"

// Statement is a single-row INSERT built for one message.
// Table and column names were validated for Dialect when it was built.
type Statement struct {
	Dialect Dialect
	Table   string
	Columns []Column
}

// Query renders the INSERT with one '?' placeholder per column.
func (s Statement) Query() string {
	q := s.Dialect.quoteChar()

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(q + s.Table + q)
	b.WriteString(" (")
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q + c.Name + q)
	}
	b.WriteString(") VALUES (")
	for i := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
	return b.String()
}

// Args returns the bound values in column order.
func (s Statement) Args() []any {
	args := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		args[i] = c.Value.Any()
	}
	return args
}

// Keys returns the column names in order.
func (s Statement) Keys() []string {
	keys := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		keys[i] = c.Name
	}
	return keys
}
