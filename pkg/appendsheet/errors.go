package appendsheet

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaParse      = errors.New("schema parse error")
	ErrTemplateLoad     = errors.New("template load error")
	ErrUnknownBlock     = errors.New("unknown block")
	ErrSectionExhausted = errors.New("section exhausted")
	ErrValidation       = errors.New("validation error")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrEmptyBlock       = errors.New("empty block")
	ErrExport           = errors.New("export error")
	ErrSerialization    = errors.New("serialization error")

	ErrUnknownSheet    = errors.New("unknown sheet")
	ErrExported        = errors.New("workbook already exported")
	ErrNegativeAdvance = errors.New("negative row advance")
)

// ValidationError describes a single value rejected against its field
// descriptor. Row is the zero-based record index for repeated blocks and -1
// for static blocks.
type ValidationError struct {
	Block    string
	Row      int
	Field    string
	Expected Kind
	Got      Kind
	Reason   string
}

func (e *ValidationError) Error() string {
	where := fmt.Sprintf("field %q", e.Field)
	if e.Block != "" {
		where = fmt.Sprintf("block %q %s", e.Block, where)
	}
	if e.Row >= 0 {
		where = fmt.Sprintf("%s (row %d)", where, e.Row)
	}
	switch {
	case e.Reason != "" && e.Expected == KindNull:
		return fmt.Sprintf("%s: %s", where, e.Reason)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s, expected %s", where, e.Reason, e.Expected)
	default:
		return fmt.Sprintf("%s: expected %s, got %s", where, e.Expected, e.Got)
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
