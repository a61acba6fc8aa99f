package appendsheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// AppendOnlySheetWriter writes blocks into one sheet, top to bottom. Every
// write claims a template section, validates its input before touching
// anything, then appends rows directly below the previous block.
type AppendOnlySheetWriter struct {
	engine  *Engine
	sheet   string
	cursor  *SheetCursor
	pending []plannedRow
	// flushed counts rows materialized into the workbook.
	flushed int
}

type plannedCell struct {
	col      int
	tmpl     *CellTemplate
	field    *FieldDescriptor
	value    Value
	hasValue bool
}

type plannedRow struct {
	row     int
	section *Section
	tmpl    *RowTemplate
	cells   []plannedCell
}

func newSheetWriter(e *Engine, sheet string) *AppendOnlySheetWriter {
	return &AppendOnlySheetWriter{
		engine: e,
		sheet:  sheet,
		cursor: NewSheetCursor(sheet, e.opts.firstRow),
	}
}

func (w *AppendOnlySheetWriter) SheetName() string { return w.sheet }

// NextRow is the row the next block will start on.
func (w *AppendOnlySheetWriter) NextRow() int { return w.cursor.NextRow() }

// Cursor exposes the writer's cursor for inspection.
func (w *AppendOnlySheetWriter) Cursor() *SheetCursor { return w.cursor }

// WriteStaticData claims the next static section and writes cells into it.
// Cells whose name matches a placeholder land in that column; any others are
// written as label/value pairs to the right of the section, in order.
func (w *AppendOnlySheetWriter) WriteStaticData(cells []StaticCell) error {
	if err := w.engine.usable(); err != nil {
		return err
	}
	sec, err := w.engine.registry.peek(w.sheet, StaticBlock)
	if err != nil {
		return err
	}
	blk := w.staticBlock(sec, cells)
	values, err := w.validateStatic(sec, blk, cells)
	if err != nil {
		return err
	}

	w.engine.registry.consume(sec)
	rng, err := w.cursor.Advance(len(sec.Lead) + 1)
	if err != nil {
		return err
	}
	w.cursor.record(sec.Index, StaticBlock)

	row := w.planLead(sec, rng.Start)
	pr := w.planSectionRow(sec, blk, row, func(name string) (Value, bool) {
		v, ok := values[name]
		return v, ok
	})
	col := sec.LastCol() + 1
	for _, c := range cells {
		if _, ok := sec.Column(c.Name); ok {
			continue
		}
		var fd *FieldDescriptor
		if blk != nil {
			if d, ok := blk.Field(c.Name); ok {
				fd = &d
			}
		}
		pr.cells = append(pr.cells,
			plannedCell{col: col, value: Text(c.Name), hasValue: true},
			plannedCell{col: col + 1, field: fd, value: values[c.Name], hasValue: true},
		)
		col += 2
	}
	w.pending = append(w.pending, pr)

	w.engine.logger.Debug().
		Str("sheet", w.sheet).
		Str("section", sec.Name).
		Int("start_row", rng.Start).
		Int("cells", len(cells)).
		Msg("static block written")
	return w.maybeFlush()
}

// WriteRepeatedData claims the next repeated section and writes one row per
// record. All records must have the same fields in the same order.
func (w *AppendOnlySheetWriter) WriteRepeatedData(rows []Record) error {
	if err := w.engine.usable(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: sheet %q", ErrEmptyBlock, w.sheet)
	}
	for i := 1; i < len(rows); i++ {
		if !rows[i].sameShape(rows[0]) {
			return fmt.Errorf("%w: record %d has fields [%s], record 0 has [%s]",
				ErrSchemaMismatch, i, strings.Join(rows[i].names, ", "), strings.Join(rows[0].names, ", "))
		}
	}
	sec, err := w.engine.registry.peek(w.sheet, RepeatedBlock)
	if err != nil {
		return err
	}
	blk, err := w.repeatedBlock(sec, rows[0])
	if err != nil {
		return err
	}
	values, err := w.validateRepeated(blk, rows)
	if err != nil {
		return err
	}

	w.engine.registry.consume(sec)
	rng, err := w.cursor.Advance(len(sec.Lead) + len(rows))
	if err != nil {
		return err
	}
	w.cursor.record(sec.Index, RepeatedBlock)

	next := w.planLead(sec, rng.Start)
	extraStart := sec.LastCol() + 1
	for i, rec := range rows {
		vals := values[i]
		pr := w.planSectionRow(sec, blk, next+i, func(name string) (Value, bool) {
			idx, ok := rec.index[name]
			if !ok {
				return Null(), false
			}
			return vals[idx], true
		})
		col := extraStart
		for j, name := range rec.names {
			if _, ok := sec.Column(name); ok {
				continue
			}
			var fd *FieldDescriptor
			if d, ok := blk.Field(name); ok {
				fd = &d
			}
			pr.cells = append(pr.cells, plannedCell{col: col, field: fd, value: vals[j], hasValue: true})
			col++
		}
		w.pending = append(w.pending, pr)
	}

	w.engine.logger.Debug().
		Str("sheet", w.sheet).
		Str("section", sec.Name).
		Str("block", blk.Name).
		Int("start_row", rng.Start).
		Int("records", len(rows)).
		Msg("repeated block written")
	return w.maybeFlush()
}

// staticBlock picks the schema block governing a static write: the block bound
// to the section by name, else one declaring exactly the written labels.
func (w *AppendOnlySheetWriter) staticBlock(sec *Section, cells []StaticCell) *Block {
	schema := w.engine.schema
	if sec.Block != "" {
		if b, ok := schema.byName[sec.Block]; ok {
			return b
		}
	}
	names := make([]string, len(cells))
	for i, c := range cells {
		names[i] = c.Name
	}
	if len(names) == 0 {
		return nil
	}
	b, err := schema.BlockFor(names)
	if err != nil || len(b.Fields) != len(names) {
		return nil
	}
	return b
}

func (w *AppendOnlySheetWriter) repeatedBlock(sec *Section, first Record) (*Block, error) {
	schema := w.engine.schema
	if sec.Block != "" {
		if b, ok := schema.byName[sec.Block]; ok {
			return b, nil
		}
	}
	if b, err := schema.BlockFor(sec.Fields); err == nil {
		return b, nil
	}
	b, err := schema.BlockFor(first.names)
	if err != nil {
		return nil, fmt.Errorf("section %q: %w", sec.Name, err)
	}
	return b, nil
}

func (w *AppendOnlySheetWriter) validateStatic(sec *Section, blk *Block, cells []StaticCell) (map[string]Value, error) {
	values := make(map[string]Value, len(cells))
	blockName := ""
	if blk != nil {
		blockName = blk.Name
	}
	for _, c := range cells {
		if _, dup := values[c.Name]; dup {
			return nil, &ValidationError{Block: blockName, Row: -1, Field: c.Name, Reason: "duplicate label"}
		}
		v := c.Value
		if blk == nil {
			_, isPlaceholder := sec.Column(c.Name)
			if !isPlaceholder && !w.engine.schema.allowUnknownStatic {
				return nil, &ValidationError{Row: -1, Field: c.Name, Got: v.Kind(), Reason: "unknown static label"}
			}
			values[c.Name] = v
			continue
		}
		fd, ok := blk.Field(c.Name)
		if !ok {
			if !blk.Open {
				return nil, &ValidationError{Block: blk.Name, Row: -1, Field: c.Name, Got: v.Kind(), Reason: "field not declared in closed block"}
			}
			values[c.Name] = v
			continue
		}
		v, err := w.coerce(blk.Name, -1, fd, v)
		if err != nil {
			return nil, err
		}
		if err := validateValue(blk.Name, -1, fd, v); err != nil {
			return nil, err
		}
		values[c.Name] = v
	}
	if blk != nil {
		for _, fd := range blk.Fields {
			if _, ok := values[fd.Name]; fd.Required && !ok {
				return nil, &ValidationError{Block: blk.Name, Row: -1, Field: fd.Name, Expected: fd.Kind, Reason: "missing required field"}
			}
		}
	}
	return values, nil
}

// validateRepeated checks every record and returns the (possibly coerced)
// values, aligned with each record's field order.
func (w *AppendOnlySheetWriter) validateRepeated(blk *Block, rows []Record) ([][]Value, error) {
	var missing []FieldDescriptor
	for _, fd := range blk.Fields {
		if _, ok := rows[0].index[fd.Name]; fd.Required && !ok {
			missing = append(missing, fd)
		}
	}
	if len(missing) > 0 {
		fd := missing[0]
		return nil, &ValidationError{Block: blk.Name, Row: 0, Field: fd.Name, Expected: fd.Kind, Reason: "missing required field"}
	}

	out := make([][]Value, len(rows))
	for i, rec := range rows {
		vals := make([]Value, len(rec.values))
		for j, name := range rec.names {
			v := rec.values[j]
			fd, ok := blk.Field(name)
			if !ok {
				if !blk.Open {
					return nil, &ValidationError{Block: blk.Name, Row: i, Field: name, Got: v.Kind(), Reason: "field not declared in closed block"}
				}
				vals[j] = v
				continue
			}
			v, err := w.coerce(blk.Name, i, fd, v)
			if err != nil {
				return nil, err
			}
			if err := validateValue(blk.Name, i, fd, v); err != nil {
				return nil, err
			}
			vals[j] = v
		}
		out[i] = vals
	}
	return out, nil
}

func (w *AppendOnlySheetWriter) coerce(blk string, row int, fd FieldDescriptor, v Value) (Value, error) {
	if !w.engine.opts.coerce {
		return v, nil
	}
	c, err := coerce(v, fd.Kind)
	if err != nil {
		return v, &ValidationError{Block: blk, Row: row, Field: fd.Name, Expected: fd.Kind, Got: v.Kind(),
			Reason: fmt.Sprintf("cannot convert %q", v.Text())}
	}
	return c, nil
}

// planLead stages the section's decoration rows from start and returns the
// row that follows them.
func (w *AppendOnlySheetWriter) planLead(sec *Section, start int) int {
	for i := range sec.Lead {
		tmpl := &sec.Lead[i]
		pr := plannedRow{row: start + i, section: sec, tmpl: tmpl}
		for j := range tmpl.Cells {
			pr.cells = append(pr.cells, plannedCell{col: tmpl.Cells[j].Col, tmpl: &tmpl.Cells[j]})
		}
		w.pending = append(w.pending, pr)
	}
	return start + len(sec.Lead)
}

func (w *AppendOnlySheetWriter) planSectionRow(sec *Section, blk *Block, row int, lookup func(string) (Value, bool)) plannedRow {
	pr := plannedRow{row: row, section: sec, tmpl: &sec.Row}
	for i := range sec.Row.Cells {
		ct := &sec.Row.Cells[i]
		pc := plannedCell{col: ct.Col, tmpl: ct}
		if ct.Placeholder != "" {
			if blk != nil {
				if d, ok := blk.Field(ct.Placeholder); ok {
					pc.field = &d
				}
			}
			pc.value, pc.hasValue = lookup(ct.Placeholder)
		}
		pr.cells = append(pr.cells, pc)
	}
	return pr
}

func (w *AppendOnlySheetWriter) maybeFlush() error {
	if len(w.pending) < w.engine.opts.bufferSize {
		return nil
	}
	return w.flush()
}

// flush materializes every pending row into the workbook. A failure breaks
// the engine; see Engine.
func (w *AppendOnlySheetWriter) flush() error {
	if w.engine.broken != nil {
		return w.engine.broken
	}
	for i := range w.pending {
		if err := w.materialize(&w.pending[i]); err != nil {
			w.engine.broken = fmt.Errorf("%w: sheet %q row %d: %w", ErrSerialization, w.sheet, w.pending[i].row, err)
			w.pending = w.pending[i:]
			w.engine.logger.Error().Err(err).Str("sheet", w.sheet).Int("row", w.pending[0].row).Msg("flush failed, engine unusable")
			return w.engine.broken
		}
		w.flushed++
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *AppendOnlySheetWriter) materialize(pr *plannedRow) error {
	f := w.engine.file
	if pr.tmpl != nil && pr.tmpl.Height > 0 {
		if err := f.SetRowHeight(w.sheet, pr.row, pr.tmpl.Height); err != nil {
			return err
		}
	}
	delta := 0
	if pr.tmpl != nil {
		delta = pr.row - pr.tmpl.SourceRow
	}
	for i := range pr.cells {
		pc := &pr.cells[i]
		axis, err := excelize.CoordinatesToCellName(pc.col, pr.row)
		if err != nil {
			return err
		}
		switch {
		case pc.hasValue:
			if !pc.value.IsNull() {
				if err := f.SetCellValue(w.sheet, axis, pc.value.Interface()); err != nil {
					return err
				}
			}
		case pc.tmpl != nil && pc.tmpl.Formula != "":
			if err := f.SetCellFormula(w.sheet, axis, shiftFormula(pc.tmpl.Formula, delta)); err != nil {
				return err
			}
		case pc.tmpl != nil && pc.tmpl.Literal != "":
			if err := f.SetCellValue(w.sheet, axis, pc.tmpl.literalValue()); err != nil {
				return err
			}
		}
		styleID, err := w.engine.styles.resolve(pr.section.TemplateIndex, pc.tmpl, pc.field)
		if err != nil {
			return err
		}
		if styleID != 0 {
			if err := f.SetCellStyle(w.sheet, axis, axis, styleID); err != nil {
				return err
			}
		}
	}
	if pr.tmpl != nil {
		for _, m := range pr.tmpl.Merges {
			start, err := excelize.CoordinatesToCellName(m.Start, pr.row)
			if err != nil {
				return err
			}
			end, err := excelize.CoordinatesToCellName(m.End, pr.row)
			if err != nil {
				return err
			}
			if err := f.MergeCell(w.sheet, start, end); err != nil {
				return err
			}
		}
	}
	return nil
}
