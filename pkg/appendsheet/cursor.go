package appendsheet

import "fmt"

// RowRange is the half-open row interval [Start, End) handed out by a cursor.
type RowRange struct {
	Start int
	End   int
}

func (r RowRange) Len() int { return r.End - r.Start }

// SheetCursor is the per-sheet append position. It only does arithmetic and
// keeps a log of what was written; it never touches the workbook.
type SheetCursor struct {
	sheet         string
	nextRow       int
	activeSection int
	history       []BlockKind
}

// NewSheetCursor starts a cursor at firstRow (1-based, as in excelize).
func NewSheetCursor(sheet string, firstRow int) *SheetCursor {
	if firstRow < 1 {
		firstRow = 1
	}
	return &SheetCursor{sheet: sheet, nextRow: firstRow, activeSection: -1}
}

// Advance claims the next rows rows and moves the cursor past them.
func (c *SheetCursor) Advance(rows int) (RowRange, error) {
	if rows < 0 {
		return RowRange{}, fmt.Errorf("%w: sheet %q: %d rows", ErrNegativeAdvance, c.sheet, rows)
	}
	r := RowRange{Start: c.nextRow, End: c.nextRow + rows}
	c.nextRow = r.End
	return r, nil
}

func (c *SheetCursor) Sheet() string { return c.sheet }

// NextRow is the first row the next block will occupy.
func (c *SheetCursor) NextRow() int { return c.nextRow }

// ActiveSection is the definition index of the last claimed section, or -1.
func (c *SheetCursor) ActiveSection() int { return c.activeSection }

// History returns the kinds of blocks written so far, in order.
func (c *SheetCursor) History() []BlockKind {
	out := make([]BlockKind, len(c.history))
	copy(out, c.history)
	return out
}

func (c *SheetCursor) record(section int, kind BlockKind) {
	c.activeSection = section
	c.history = append(c.history, kind)
}
