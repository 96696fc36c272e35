package roster

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	errEmptyRow   = errors.New("empty name and email")
	errEmptyName  = errors.New("empty name")
	errEmptyEmail = errors.New("empty email")
)

// SchemaError means required columns are absent. No recipients are produced.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("roster: missing required column(s): %s", strings.Join(e.Missing, ", "))
}

// RowError describes one row that was skipped. Row is 1-based, header excluded.
type RowError struct {
	Row    int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("roster: row %d: %s", e.Row, e.Reason)
}

// IsSchemaError reports whether err is a SchemaError.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}
