package appendsheet

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const defaultColWidth = 9.140625

// Engine owns the output workbook and one writer per sheet. It is not safe for
// concurrent use.
//
// A flush failure is fatal: the failing block's section is already consumed
// and its rows may be half written, so from then on every write and export
// returns the same ErrSerialization error. Close still releases the workbook.
type Engine struct {
	registry *TemplateRegistry
	schema   *Schema
	file     *excelize.File
	styles   *styleCache
	writers  map[string]*AppendOnlySheetWriter
	order    []string
	opts     options
	logger   zerolog.Logger
	exported bool
	// broken is the first flush failure.
	broken error
}

// New loads the templates and builds an engine whose writers stage up to
// bufferSize rows before flushing.
func New(templatePaths []string, schema *Schema, bufferSize int, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	reg, err := LoadTemplates(templatePaths, WithRegistryLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return NewWithRegistry(reg, schema, append([]Option{WithBufferSize(bufferSize)}, opts...)...)
}

// NewWithRegistry builds an engine on an already loaded registry. The engine
// consumes the registry's sections; pass reg.Clone() to reuse a registry.
func NewWithRegistry(reg *TemplateRegistry, schema *Schema, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("appendsheet: nil template registry")
	}
	if schema == nil {
		return nil, errors.New("appendsheet: nil schema")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := newWorkbook(reg)
	if err != nil {
		return nil, err
	}
	for _, c := range reg.Collisions() {
		o.logger.Warn().Str("sheet", c.Sheet).Str("section", c.Name).Strs("templates", c.Templates).Msg("section name collision")
	}
	return &Engine{
		registry: reg,
		schema:   schema,
		file:     f,
		styles:   newStyleCache(f),
		writers:  make(map[string]*AppendOnlySheetWriter),
		opts:     o,
		logger:   o.logger,
	}, nil
}

// newWorkbook creates the output file with every template sheet, in order,
// sized like the template that first declared it.
func newWorkbook(reg *TemplateRegistry) (*excelize.File, error) {
	f := excelize.NewFile()
	sheets := reg.Sheets()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: templates declare no sheets", ErrTemplateLoad)
	}
	defaultSheet := f.GetSheetName(0)
	for i, sheet := range sheets {
		if i == 0 && sheet != defaultSheet {
			if err := f.SetSheetName(defaultSheet, sheet); err != nil {
				return nil, fmt.Errorf("creating sheet %q: %w", sheet, err)
			}
		} else if i > 0 {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, fmt.Errorf("creating sheet %q: %w", sheet, err)
			}
		}
		for col, width := range reg.columnWidths(sheet) {
			if width == defaultColWidth {
				continue
			}
			name, err := excelize.ColumnNumberToName(col)
			if err != nil {
				return nil, err
			}
			if err := f.SetColWidth(sheet, name, name, width); err != nil {
				return nil, fmt.Errorf("sizing %s!%s: %w", sheet, name, err)
			}
		}
	}
	return f, nil
}

// GetAppendOnlySheetWriter returns the writer bound to sheet, creating it on
// first use. Later calls return the same writer and therefore the same cursor.
func (e *Engine) GetAppendOnlySheetWriter(sheet string) (*AppendOnlySheetWriter, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if w, ok := e.writers[sheet]; ok {
		return w, nil
	}
	if !e.registry.HasSheet(sheet) {
		return nil, fmt.Errorf("%w: %q is not declared by any template", ErrUnknownSheet, sheet)
	}
	w := newSheetWriter(e, sheet)
	e.writers[sheet] = w
	e.order = append(e.order, sheet)
	e.logger.Debug().Str("sheet", sheet).Int("sections", len(e.registry.Sections(sheet))).Msg("sheet writer opened")
	return w, nil
}

func (e *Engine) Schema() *Schema { return e.schema }

func (e *Engine) Registry() *TemplateRegistry { return e.registry }

// Exported reports whether the workbook has been written out.
func (e *Engine) Exported() bool { return e.exported }

// Err returns the flush failure that broke the engine, or nil.
func (e *Engine) Err() error { return e.broken }

func (e *Engine) usable() error {
	if e.exported {
		return ErrExported
	}
	return e.broken
}
