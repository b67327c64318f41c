package translate

import (
	"fmt"
	"strings"
)

// Dialect selects identifier quoting for the target database.
type Dialect int

// Supported dialects.
const (
	SQLite Dialect = iota
	MySQL
)

// ParseDialect maps a database/sql driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDialect, driver)
	}
}

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite3"
	case MySQL:
		return "mysql"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

func (d Dialect) quoteChar() string {
	if d == MySQL {
		return "`"
	}
	return `"`
}

// ValidateIdentifier checks that name can be quoted as a single identifier.
func (d Dialect) ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidIdentifier, name)
	case strings.Contains(name, d.quoteChar()):
		return fmt.Errorf("%w: %q contains %s", ErrInvalidIdentifier, name, d.quoteChar())
	}
	return nil
}

// Quote returns name wrapped in the dialect's identifier quotes.
func (d Dialect) Quote(name string) (string, error) {
	if err := d.ValidateIdentifier(name); err != nil {
		return "", err
	}
	q := d.quoteChar()
	return q + name + q, nil
}
