package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/logger"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

// ErrInvalidJob marks a job that is malformed before any row is written.
var ErrInvalidJob = errors.New("invalid export job")

// ExportService runs export jobs against a loaded template registry. Each job
// gets its own engine over a clone of the registry, so jobs may run
// concurrently.
type ExportService struct {
	registry   *appendsheet.TemplateRegistry
	schema     *appendsheet.Schema
	blocks     domain.BlockRepository
	bufferSize int
	coerce     bool
	validate   *validator.Validate
}

// NewExportService creates an ExportService. blocks may be nil, in which case
// jobs with query blocks are rejected. A query naming a source blocks cannot
// reach fails with domain.ErrSourceUnavailable.
func NewExportService(reg *appendsheet.TemplateRegistry, schema *appendsheet.Schema, blocks domain.BlockRepository, bufferSize int, coerce bool) *ExportService {
	return &ExportService{
		registry:   reg,
		schema:     schema,
		blocks:     blocks,
		bufferSize: bufferSize,
		coerce:     coerce,
		validate:   validator.New(),
	}
}

// Templates lists the section layout of every sheet.
func (s *ExportService) Templates() []domain.SheetInfo {
	var out []domain.SheetInfo
	for _, sheet := range s.registry.Sheets() {
		info := domain.SheetInfo{Name: sheet}
		for _, sec := range s.registry.Sections(sheet) {
			info.Sections = append(info.Sections, domain.SectionInfo{
				Name:     sec.Name,
				Kind:     sec.Kind.String(),
				Block:    sec.Block,
				Fields:   sec.Fields,
				Row:      sec.Row.SourceRow,
				Lead:     len(sec.Lead),
				Template: sec.Template,
			})
		}
		out = append(out, info)
	}
	return out
}

// Export runs job and streams the workbook to w.
func (s *ExportService) Export(ctx context.Context, job *domain.ExportJob, w io.Writer) (*domain.ExportResult, error) {
	ctx, engine, res, err := s.run(ctx, job)
	if err != nil {
		return nil, err
	}
	n, err := engine.WriteTo(w)
	if err != nil {
		engine.Close()
		return nil, err
	}
	res.Bytes = n
	logger.InfoLog(ctx, "export finished: %d bytes", n)
	return res, nil
}

// ExportToFile runs job and writes the workbook to path.
func (s *ExportService) ExportToFile(ctx context.Context, job *domain.ExportJob, path string) (*domain.ExportResult, error) {
	ctx, engine, res, err := s.run(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := engine.ExportToFile(ctx, path); err != nil {
		engine.Close()
		return nil, err
	}
	logger.InfoLog(ctx, "export written to %s", path)
	return res, nil
}

func (s *ExportService) run(ctx context.Context, job *domain.ExportJob) (context.Context, *appendsheet.Engine, *domain.ExportResult, error) {
	if job == nil {
		return ctx, nil, nil, fmt.Errorf("%w: empty job", ErrInvalidJob)
	}
	if err := s.validate.Struct(job); err != nil {
		return ctx, nil, nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	res := &domain.ExportResult{JobID: uuid.NewString(), Sheets: make(map[string]int)}
	ctx = logger.WithLogger(ctx, map[string]interface{}{"job_id": res.JobID, "job": job.Name})

	opts := []appendsheet.Option{
		appendsheet.WithBufferSize(s.bufferSize),
		appendsheet.WithLogger(logger.FromContext(ctx)),
	}
	if s.coerce {
		opts = append(opts, appendsheet.WithCoercion())
	}
	engine, err := appendsheet.NewWithRegistry(s.registry.Clone(), s.schema, opts...)
	if err != nil {
		return ctx, nil, nil, err
	}

	for _, sheet := range job.Sheets {
		rows, err := s.writeSheet(ctx, engine, sheet)
		if err != nil {
			engine.Close()
			logger.ErrorLog(ctx, err, "export failed on sheet %s", sheet.Name)
			return ctx, nil, nil, err
		}
		res.Sheets[sheet.Name] = rows
	}
	return ctx, engine, res, nil
}

func (s *ExportService) writeSheet(ctx context.Context, engine *appendsheet.Engine, sheet domain.SheetJob) (int, error) {
	w, err := engine.GetAppendOnlySheetWriter(sheet.Name)
	if err != nil {
		return 0, err
	}
	for i, blk := range sheet.Blocks {
		switch blk.Kind {
		case domain.BlockStatic:
			cells, err := staticCells(blk.Cells)
			if err != nil {
				return 0, fmt.Errorf("sheet %q block %d: %w", sheet.Name, i, err)
			}
			err = w.WriteStaticData(cells)
			if err != nil {
				return 0, fmt.Errorf("sheet %q block %d: %w", sheet.Name, i, err)
			}
		case domain.BlockRepeated:
			records, err := s.records(ctx, blk)
			if err != nil {
				return 0, fmt.Errorf("sheet %q block %d: %w", sheet.Name, i, err)
			}
			if err := w.WriteRepeatedData(records); err != nil {
				return 0, fmt.Errorf("sheet %q block %d: %w", sheet.Name, i, err)
			}
		}
	}
	return w.NextRow() - 1, nil
}

func staticCells(in []domain.CellJob) ([]appendsheet.StaticCell, error) {
	cells := make([]appendsheet.StaticCell, len(in))
	for i, c := range in {
		v, err := appendsheet.ValueOf(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: cell %q: %v", ErrInvalidJob, c.Name, err)
		}
		cells[i] = appendsheet.Cell(c.Name, v)
	}
	return cells, nil
}

func (s *ExportService) records(ctx context.Context, blk domain.BlockJob) ([]appendsheet.Record, error) {
	if blk.Query != nil {
		if len(blk.Rows) > 0 {
			return nil, fmt.Errorf("%w: block has both rows and a query", ErrInvalidJob)
		}
		if s.blocks == nil {
			return nil, fmt.Errorf("%w: query blocks need a block source", ErrInvalidJob)
		}
		return s.blocks.FetchRecords(ctx, *blk.Query)
	}

	records := make([]appendsheet.Record, 0, len(blk.Rows))
	for r, row := range blk.Rows {
		if len(row) != len(blk.Fields) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d fields", ErrInvalidJob, r, len(row), len(blk.Fields))
		}
		b := appendsheet.NewRecord()
		for i, name := range blk.Fields {
			b.AddAny(name, row[i])
		}
		rec, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidJob, r, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
