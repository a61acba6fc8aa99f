package appendsheet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// finalize flushes every writer and checks that each sheet holds exactly the
// rows its cursor handed out.
func (e *Engine) finalize() error {
	for _, sheet := range e.order {
		w := e.writers[sheet]
		if err := w.flush(); err != nil {
			return err
		}
		allocated := w.cursor.NextRow() - e.opts.firstRow
		if w.flushed != allocated || len(w.pending) != 0 {
			return fmt.Errorf("%w: sheet %q wrote %d rows but allocated %d", ErrSerialization, sheet, w.flushed, allocated)
		}
	}
	return nil
}

// ExportToFile writes the workbook to path. The file is first written next to
// path and renamed into place, so a failed export leaves path untouched. A
// failed write of the file may be retried; a successful export or a flush
// failure ends the engine's life.
func (e *Engine) ExportToFile(ctx context.Context, path string) error {
	if err := e.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := e.finalize(); err != nil {
		return err
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	tmpName := tmp.Name()
	if err := e.file.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", ErrExport, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: syncing %s: %v", ErrExport, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing %s: %v", ErrExport, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrExport, err)
	}

	e.exported = true
	e.logger.Info().Str("path", path).Strs("sheets", e.order).Msg("workbook exported")
	return e.file.Close()
}

// WriteTo streams the finished workbook to w, for callers that do not want a
// file on disk.
func (e *Engine) WriteTo(w io.Writer) (int64, error) {
	if err := e.usable(); err != nil {
		return 0, err
	}
	if err := e.finalize(); err != nil {
		return 0, err
	}
	n, err := e.file.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrExport, err)
	}
	e.exported = true
	e.logger.Info().Int64("bytes", n).Strs("sheets", e.order).Msg("workbook exported")
	return n, e.file.Close()
}

// Close releases the workbook without exporting it.
func (e *Engine) Close() error {
	return e.file.Close()
}
