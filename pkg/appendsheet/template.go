package appendsheet

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tiendc/go-deepcopy"
	"github.com/xuri/excelize/v2"
)

// BlockKind is the shape a write call asks for.
type BlockKind int

const (
	StaticBlock BlockKind = iota
	RepeatedBlock
)

func (k BlockKind) String() string {
	if k == RepeatedBlock {
		return "repeated"
	}
	return "static"
}

// Placeholder cells look like $KEY.project (static) or $REP.person (repeated).
var placeholderPattern = regexp.MustCompile(`^\$(KEY|REP)\.([A-Za-z_][A-Za-z0-9_]*)$`)

// CellRef is a 1-based row/column position.
type CellRef struct {
	Row int
	Col int
}

// CellTemplate is one captured template cell.
type CellTemplate struct {
	Col         int
	Literal     string
	Formula     string
	Placeholder string
	SourceStyle int
	Style       *excelize.Style

	marker    string
	valueType excelize.CellType
}

// literalValue returns the template literal typed the way the template
// stored it.
func (c *CellTemplate) literalValue() interface{} {
	switch c.valueType {
	case excelize.CellTypeBool:
		return c.Literal == "1" || strings.EqualFold(c.Literal, "true")
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if f, err := strconv.ParseFloat(c.Literal, 64); err == nil {
			return f
		}
	}
	return c.Literal
}

// ColSpan is a horizontal merge within one row, in columns.
type ColSpan struct {
	Start int
	End   int
}

// RowTemplate is a captured template row, replayed for each output row.
type RowTemplate struct {
	SourceRow int
	Height    float64
	Cells     []CellTemplate
	Merges    []ColSpan
}

func (r *RowTemplate) lastCol() int {
	last := 0
	for _, c := range r.Cells {
		if c.Col > last {
			last = c.Col
		}
	}
	for _, m := range r.Merges {
		if m.End > last {
			last = m.End
		}
	}
	return last
}

// Section is a claimable region of a template sheet: optional decoration rows
// (Lead) followed by the row holding placeholders.
type Section struct {
	Name          string
	Sheet         string
	Template      string
	TemplateIndex int
	Index         int
	Anchor        CellRef
	Kind          BlockKind
	// Block is the schema block bound through a workbook defined name.
	Block  string
	Fields []string
	Lead   []RowTemplate
	Row    RowTemplate

	named   bool
	columns map[string]int
}

func (s *Section) Repeatable() bool { return s.Kind == RepeatedBlock }

// Column returns the column holding the placeholder for field.
func (s *Section) Column(field string) (int, bool) {
	c, ok := s.columns[field]
	return c, ok
}

// LastCol is the right-most column any of the section's rows use.
func (s *Section) LastCol() int {
	last := s.Row.lastCol()
	for i := range s.Lead {
		if c := s.Lead[i].lastCol(); c > last {
			last = c
		}
	}
	return last
}

// Collision reports a section name declared more than once for a sheet.
type Collision struct {
	Sheet     string
	Name      string
	Templates []string
}

type sheetLayout struct {
	name      string
	sections  []*Section
	colWidths map[int]float64
}

// TemplateRegistry indexes the sections of every loaded template by sheet.
// Sections are immutable; the consumption state belongs to the registry
// instance, so use Clone to hand a fresh copy to each engine.
type TemplateRegistry struct {
	sheets     []*sheetLayout
	byName     map[string]*sheetLayout
	collisions []Collision
	consumed   map[string][]bool
	logger     zerolog.Logger
}

// RegistryOption configures LoadTemplates.
type RegistryOption func(*TemplateRegistry)

func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *TemplateRegistry) { r.logger = l }
}

// LoadTemplates opens every template in order. Sheets declared by more than
// one template get their sections concatenated in the order supplied.
func LoadTemplates(paths []string, opts ...RegistryOption) (*TemplateRegistry, error) {
	reg := &TemplateRegistry{
		byName:   make(map[string]*sheetLayout),
		consumed: make(map[string][]bool),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(reg)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no template paths given", ErrTemplateLoad)
	}
	for i, path := range paths {
		if err := reg.loadFile(i, path); err != nil {
			return nil, err
		}
	}
	reg.findCollisions()
	for _, l := range reg.sheets {
		reg.consumed[l.name] = make([]bool, len(l.sections))
	}
	return reg, nil
}

func (r *TemplateRegistry) loadFile(index int, path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTemplateLoad, path, err)
	}
	defer f.Close()

	names := definedSections(f)
	for _, sheet := range f.GetSheetList() {
		if err := r.loadSheet(f, index, path, sheet, names[sheet]); err != nil {
			return fmt.Errorf("%w: %s: sheet %q: %v", ErrTemplateLoad, path, sheet, err)
		}
	}
	return nil
}

func (r *TemplateRegistry) layout(sheet string) *sheetLayout {
	l, ok := r.byName[sheet]
	if !ok {
		l = &sheetLayout{name: sheet}
		r.byName[sheet] = l
		r.sheets = append(r.sheets, l)
	}
	return l
}

func (r *TemplateRegistry) loadSheet(f *excelize.File, index int, path, sheet string, names []namedRange) error {
	layout := r.layout(sheet)

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	merges, err := f.GetMergeCells(sheet, true)
	if err != nil {
		return err
	}
	spans := rowSpans(merges)

	maxCol := 0
	var lead []RowTemplate
	for i, values := range rows {
		rowNum := i + 1
		rt, err := captureRow(f, sheet, rowNum, values, spans[rowNum])
		if err != nil {
			return err
		}
		if c := rt.lastCol(); c > maxCol {
			maxCol = c
		}
		if len(rt.Cells) == 0 {
			continue
		}

		kind, fields, err := placeholders(rt)
		if err != nil {
			return fmt.Errorf("row %d: %v", rowNum, err)
		}
		if len(fields) == 0 {
			lead = append(lead, rt)
			continue
		}

		sec := &Section{
			Name:          fmt.Sprintf("%s!%d", sheet, rowNum),
			Sheet:         sheet,
			Template:      path,
			TemplateIndex: index,
			Index:         len(layout.sections),
			Anchor:        CellRef{Row: rowNum, Col: rt.Cells[0].Col},
			Kind:          kind,
			Fields:        fields,
			Lead:          lead,
			Row:           rt,
			columns:       make(map[string]int, len(fields)),
		}
		if len(lead) > 0 {
			sec.Anchor.Row = lead[0].SourceRow
		}
		for _, c := range rt.Cells {
			if c.Placeholder != "" {
				sec.columns[c.Placeholder] = c.Col
			}
		}
		for _, n := range names {
			if n.startRow <= rowNum && rowNum <= n.endRow {
				sec.Name, sec.Block, sec.named = n.name, n.name, true
				break
			}
		}
		layout.sections = append(layout.sections, sec)
		r.logger.Debug().
			Str("template", filepath.Base(path)).
			Str("sheet", sheet).
			Str("section", sec.Name).
			Str("kind", kind.String()).
			Strs("fields", fields).
			Msg("section captured")
		lead = nil
	}
	if len(lead) > 0 {
		r.logger.Warn().
			Str("template", filepath.Base(path)).
			Str("sheet", sheet).
			Int("rows", len(lead)).
			Msg("decoration rows after the last section are ignored")
	}

	if layout.colWidths == nil {
		layout.colWidths = make(map[int]float64, maxCol)
		for c := 1; c <= maxCol; c++ {
			name, err := excelize.ColumnNumberToName(c)
			if err != nil {
				return err
			}
			w, err := f.GetColWidth(sheet, name)
			if err != nil {
				return err
			}
			layout.colWidths[c] = w
		}
	}
	return nil
}

// captureRow snapshots the cells, styles, height and single-row merges of one
// template row.
func captureRow(f *excelize.File, sheet string, rowNum int, values []string, spans []ColSpan) (RowTemplate, error) {
	rt := RowTemplate{SourceRow: rowNum, Merges: spans}
	height, err := f.GetRowHeight(sheet, rowNum)
	if err != nil {
		return rt, err
	}
	rt.Height = height

	width := len(values)
	for _, s := range spans {
		if s.End > width {
			width = s.End
		}
	}
	for col := 1; col <= width; col++ {
		axis, err := excelize.CoordinatesToCellName(col, rowNum)
		if err != nil {
			return rt, err
		}
		cell := CellTemplate{Col: col}
		if col <= len(values) {
			raw := strings.TrimSpace(values[col-1])
			if m := placeholderPattern.FindStringSubmatch(raw); m != nil {
				cell.Placeholder, cell.marker = m[2], m[1]
			} else if values[col-1] != "" {
				cell.Literal = values[col-1]
				if cell.valueType, err = f.GetCellType(sheet, axis); err != nil {
					return rt, err
				}
			}
		}
		if cell.Formula, err = f.GetCellFormula(sheet, axis); err != nil {
			return rt, err
		}
		if cell.SourceStyle, err = f.GetCellStyle(sheet, axis); err != nil {
			return rt, err
		}
		if cell.SourceStyle != 0 {
			src, err := f.GetStyle(cell.SourceStyle)
			if err != nil {
				return rt, err
			}
			cell.Style = &excelize.Style{}
			if err := deepcopy.Copy(cell.Style, src); err != nil {
				return rt, err
			}
		}
		if cell.Placeholder == "" && cell.Literal == "" && cell.Formula == "" && cell.Style == nil {
			continue
		}
		if cell.Formula != "" {
			cell.Literal = ""
		}
		rt.Cells = append(rt.Cells, cell)
	}

	// A row holding nothing but styles is treated as empty.
	for _, c := range rt.Cells {
		if c.Placeholder != "" || c.Literal != "" || c.Formula != "" {
			return rt, nil
		}
	}
	rt.Cells = nil
	return rt, nil
}

// placeholders classifies a captured row by its $KEY/$REP markers.
func placeholders(rt RowTemplate) (BlockKind, []string, error) {
	var (
		fields         []string
		seen           = make(map[string]struct{})
		hasKey, hasRep bool
	)
	for i := range rt.Cells {
		c := &rt.Cells[i]
		if c.Placeholder == "" {
			continue
		}
		switch c.marker {
		case "KEY":
			hasKey = true
		case "REP":
			hasRep = true
		}
		if _, dup := seen[c.Placeholder]; dup {
			return StaticBlock, nil, fmt.Errorf("placeholder %q appears twice", c.Placeholder)
		}
		seen[c.Placeholder] = struct{}{}
		fields = append(fields, c.Placeholder)
	}
	if hasKey && hasRep {
		return StaticBlock, nil, fmt.Errorf("row mixes $KEY and $REP placeholders")
	}
	if hasRep {
		return RepeatedBlock, fields, nil
	}
	return StaticBlock, fields, nil
}

func rowSpans(merges []excelize.MergeCell) map[int][]ColSpan {
	spans := make(map[int][]ColSpan)
	for _, m := range merges {
		c1, r1, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			continue
		}
		c2, r2, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil || r1 != r2 {
			continue
		}
		spans[r1] = append(spans[r1], ColSpan{Start: c1, End: c2})
	}
	return spans
}

type namedRange struct {
	name     string
	startRow int
	endRow   int
}

// definedSections collects workbook defined names that point at a row range
// of a single sheet, keyed by sheet. Cell ranges (Sheet1!$A$3:$C$4) and whole
// rows (Sheet1!$3:$4) are both accepted.
func definedSections(f *excelize.File) map[string][]namedRange {
	out := make(map[string][]namedRange)
	for _, dn := range f.GetDefinedName() {
		ref := strings.TrimPrefix(dn.RefersTo, "=")
		i := strings.LastIndex(ref, "!")
		if i < 0 {
			continue
		}
		sheet := strings.Trim(ref[:i], "'")
		cells := strings.Split(strings.ReplaceAll(ref[i+1:], "$", ""), ":")
		if len(cells) > 2 {
			continue
		}
		start, err := refRow(cells[0])
		if err != nil {
			continue
		}
		end := start
		if len(cells) == 2 {
			if end, err = refRow(cells[1]); err != nil {
				continue
			}
		}
		if end < start {
			start, end = end, start
		}
		out[sheet] = append(out[sheet], namedRange{name: dn.Name, startRow: start, endRow: end})
	}
	return out
}

// refRow returns the row of a cell reference ("B3") or a bare row ("3").
func refRow(ref string) (int, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > excelize.TotalRows {
			return 0, fmt.Errorf("row %d out of range", n)
		}
		return n, nil
	}
	_, row, err := excelize.CellNameToCoordinates(ref)
	return row, err
}

func (r *TemplateRegistry) findCollisions() {
	for _, l := range r.sheets {
		byName := make(map[string][]string)
		var order []string
		for _, s := range l.sections {
			if !s.named {
				continue
			}
			if _, ok := byName[s.Name]; !ok {
				order = append(order, s.Name)
			}
			byName[s.Name] = append(byName[s.Name], s.Template)
		}
		for _, name := range order {
			if len(byName[name]) < 2 {
				continue
			}
			c := Collision{Sheet: l.name, Name: name, Templates: byName[name]}
			r.collisions = append(r.collisions, c)
			r.logger.Warn().
				Str("sheet", c.Sheet).
				Str("section", c.Name).
				Strs("templates", c.Templates).
				Msg("section declared more than once; keeping all in template order")
		}
	}
}

// Collisions lists section names declared more than once for a sheet.
func (r *TemplateRegistry) Collisions() []Collision {
	out := make([]Collision, len(r.collisions))
	copy(out, r.collisions)
	return out
}

// Sheets returns sheet names in first-declared order.
func (r *TemplateRegistry) Sheets() []string {
	names := make([]string, len(r.sheets))
	for i, l := range r.sheets {
		names[i] = l.name
	}
	return names
}

func (r *TemplateRegistry) HasSheet(sheet string) bool {
	_, ok := r.byName[sheet]
	return ok
}

// Sections returns the sections of a sheet in definition order.
func (r *TemplateRegistry) Sections(sheet string) []*Section {
	l, ok := r.byName[sheet]
	if !ok {
		return nil
	}
	out := make([]*Section, len(l.sections))
	copy(out, l.sections)
	return out
}

func (r *TemplateRegistry) columnWidths(sheet string) map[int]float64 {
	if l, ok := r.byName[sheet]; ok {
		return l.colWidths
	}
	return nil
}

// Clone shares the loaded sections but starts with nothing consumed.
func (r *TemplateRegistry) Clone() *TemplateRegistry {
	c := &TemplateRegistry{
		sheets:     r.sheets,
		byName:     r.byName,
		collisions: r.collisions,
		consumed:   make(map[string][]bool, len(r.consumed)),
		logger:     r.logger,
	}
	for _, l := range r.sheets {
		c.consumed[l.name] = make([]bool, len(l.sections))
	}
	return c
}

// ResolveSection claims the next unconsumed section of the given kind on
// sheet. Sections are offered in definition order.
func (r *TemplateRegistry) ResolveSection(sheet string, kind BlockKind) (*Section, error) {
	sec, err := r.peek(sheet, kind)
	if err != nil {
		return nil, err
	}
	r.consume(sec)
	return sec, nil
}

func (r *TemplateRegistry) peek(sheet string, kind BlockKind) (*Section, error) {
	l, ok := r.byName[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSheet, sheet)
	}
	used := r.consumed[sheet]
	for i, s := range l.sections {
		if !used[i] && s.Kind == kind {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: sheet %q has no %s section left", ErrSectionExhausted, sheet, kind)
}

func (r *TemplateRegistry) consume(sec *Section) {
	r.consumed[sec.Sheet][sec.Index] = true
}

// Remaining counts the unconsumed sections of a sheet.
func (r *TemplateRegistry) Remaining(sheet string) int {
	n := 0
	for _, used := range r.consumed[sheet] {
		if !used {
			n++
		}
	}
	return n
}
