package appendsheet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const studentSchemaYAML = `
allow_unknown_static: true
blocks:
  - name: students
    fields:
      - {name: person, kind: text, required: true}
      - {name: gpa, kind: decimal}
      - {name: major, kind: text}
`

// writeTemplate builds a template workbook in a temp dir and returns its path.
func writeTemplate(t *testing.T, name string, build func(f *excelize.File)) string {
	t.Helper()
	f := excelize.NewFile()
	build(f)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

// setRow writes values left to right starting at column A.
func setRow(t *testing.T, f *excelize.File, sheet string, row int, values ...interface{}) {
	t.Helper()
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, v))
	}
}

// studentTemplate has one static row followed by two repeatable rows.
func studentTemplate(t *testing.T) string {
	return writeTemplate(t, "students.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "Project", "$KEY.project")
		setRow(t, f, "Sheet1", 2, "$REP.person", "$REP.gpa", "$REP.major")
		setRow(t, f, "Sheet1", 3, "$REP.person", "$REP.gpa", "$REP.major")
	})
}

func studentSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := ParseSchemaBytes([]byte(studentSchemaYAML))
	require.NoError(t, err)
	return s
}

func student(person string, gpa float64, major string) Record {
	return NewRecord().
		Add("person", Text(person)).
		Add("gpa", Decimal(gpa)).
		Add("major", Text(major)).
		MustBuild()
}

func newStudentEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New([]string{studentTemplate(t)}, studentSchema(t), 100, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func openOutput(t *testing.T, path string) *excelize.File {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func cellValue(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, cell)
	require.NoError(t, err)
	return v
}
