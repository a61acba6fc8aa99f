package appendsheet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestLoadTemplatesSections(t *testing.T) {
	path := writeTemplate(t, "report.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "Report", "$KEY.title")
		setRow(t, f, "Sheet1", 2, "Name", "Score")
		setRow(t, f, "Sheet1", 3, "$REP.name", "$REP.score")
		setRow(t, f, "Sheet1", 5, "footer")
	})
	reg, err := LoadTemplates([]string{path})
	require.NoError(t, err)

	assert.Equal(t, []string{"Sheet1"}, reg.Sheets())
	assert.True(t, reg.HasSheet("Sheet1"))
	assert.False(t, reg.HasSheet("Sheet2"))

	secs := reg.Sections("Sheet1")
	require.Len(t, secs, 2, "trailing decoration rows do not form a section")

	static := secs[0]
	assert.Equal(t, StaticBlock, static.Kind)
	assert.False(t, static.Repeatable())
	assert.Equal(t, []string{"title"}, static.Fields)
	assert.Equal(t, CellRef{Row: 1, Col: 1}, static.Anchor)
	assert.Empty(t, static.Lead)
	col, ok := static.Column("title")
	require.True(t, ok)
	assert.Equal(t, 2, col)

	rep := secs[1]
	assert.Equal(t, RepeatedBlock, rep.Kind)
	assert.Equal(t, "Sheet1!3", rep.Name)
	assert.Equal(t, []string{"name", "score"}, rep.Fields)
	require.Len(t, rep.Lead, 1)
	assert.Equal(t, 2, rep.Lead[0].SourceRow)
	assert.Equal(t, 2, rep.Anchor.Row, "anchor starts at the first lead row")
	assert.Equal(t, 3, rep.Row.SourceRow)
	assert.Equal(t, 2, rep.LastCol())
	assert.Equal(t, path, rep.Template)
}

func TestDefinedNameBindsSection(t *testing.T) {
	path := writeTemplate(t, "named.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "Header")
		setRow(t, f, "Sheet1", 2, "$REP.person", "$REP.gpa", "$REP.major")
		setRow(t, f, "Sheet1", 3, "$REP.person", "$REP.gpa")
		require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "students", RefersTo: "Sheet1!$A$2:$C$2"}))
	})
	reg, err := LoadTemplates([]string{path})
	require.NoError(t, err)

	secs := reg.Sections("Sheet1")
	require.Len(t, secs, 2)
	assert.Equal(t, "students", secs[0].Name)
	assert.Equal(t, "students", secs[0].Block)
	assert.Equal(t, "Sheet1!3", secs[1].Name)
	assert.Empty(t, secs[1].Block)
	assert.Empty(t, reg.Collisions())
}

func TestWholeRowDefinedNames(t *testing.T) {
	path := writeTemplate(t, "rows.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "$REP.person", "$REP.gpa")
		setRow(t, f, "Sheet1", 2, "$REP.person", "$REP.gpa")
		setRow(t, f, "Sheet1", 3, "$REP.person", "$REP.gpa")
		require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "graduates", RefersTo: "Sheet1!$2:$2"}))
		require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "alumni", RefersTo: "'Sheet1'!3:3"}))
	})
	reg, err := LoadTemplates([]string{path})
	require.NoError(t, err)

	secs := reg.Sections("Sheet1")
	require.Len(t, secs, 3)
	assert.Equal(t, "Sheet1!1", secs[0].Name)
	assert.Equal(t, "graduates", secs[1].Name)
	assert.Equal(t, "graduates", secs[1].Block)
	assert.Equal(t, "alumni", secs[2].Name)
}

func TestRefRow(t *testing.T) {
	tests := []struct {
		ref     string
		want    int
		wantErr bool
	}{
		{"B3", 3, false},
		{"3", 3, false},
		{"1048576", 1048576, false},
		{"0", 0, true},
		{"1048577", 0, true},
		{"B", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := refRow(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("refRow(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("refRow(%q) = %d, want %d", tt.ref, got, tt.want)
			}
		})
	}
}

func TestCollisionsAcrossTemplates(t *testing.T) {
	build := func(name string) string {
		return writeTemplate(t, name, func(f *excelize.File) {
			setRow(t, f, "Sheet1", 1, "$REP.person")
			require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "people", RefersTo: "Sheet1!$A$1"}))
		})
	}
	first, second := build("a.xlsx"), build("b.xlsx")

	reg, err := LoadTemplates([]string{first, second})
	require.NoError(t, err)

	require.Len(t, reg.Sections("Sheet1"), 2, "both sections are kept in template order")
	assert.Equal(t, []Collision{{Sheet: "Sheet1", Name: "people", Templates: []string{first, second}}}, reg.Collisions())
	assert.Equal(t, 0, reg.Sections("Sheet1")[0].TemplateIndex)
	assert.Equal(t, 1, reg.Sections("Sheet1")[1].TemplateIndex)
}

func TestSheetsMergeAcrossTemplates(t *testing.T) {
	first := writeTemplate(t, "a.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "$KEY.title")
	})
	second := writeTemplate(t, "b.xlsx", func(f *excelize.File) {
		_, err := f.NewSheet("Summary")
		require.NoError(t, err)
		setRow(t, f, "Sheet1", 1, "$REP.name")
		setRow(t, f, "Summary", 1, "$KEY.total")
	})
	reg, err := LoadTemplates([]string{first, second})
	require.NoError(t, err)

	assert.Equal(t, []string{"Sheet1", "Summary"}, reg.Sheets())
	secs := reg.Sections("Sheet1")
	require.Len(t, secs, 2)
	assert.Equal(t, StaticBlock, secs[0].Kind)
	assert.Equal(t, RepeatedBlock, secs[1].Kind)
	assert.Equal(t, 1, secs[1].Index)
}

func TestLoadTemplatesErrors(t *testing.T) {
	_, err := LoadTemplates(nil)
	assert.ErrorIs(t, err, ErrTemplateLoad)

	_, err = LoadTemplates([]string{filepath.Join(t.TempDir(), "missing.xlsx")})
	assert.ErrorIs(t, err, ErrTemplateLoad)

	garbage := filepath.Join(t.TempDir(), "garbage.xlsx")
	require.NoError(t, os.WriteFile(garbage, []byte("not a workbook"), 0o644))
	_, err = LoadTemplates([]string{garbage})
	assert.ErrorIs(t, err, ErrTemplateLoad)

	mixed := writeTemplate(t, "mixed.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "$KEY.a", "$REP.b")
	})
	_, err = LoadTemplates([]string{mixed})
	assert.ErrorIs(t, err, ErrTemplateLoad)
	assert.ErrorContains(t, err, "mixes")

	dup := writeTemplate(t, "dup.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "$REP.a", "$REP.a")
	})
	_, err = LoadTemplates([]string{dup})
	assert.ErrorIs(t, err, ErrTemplateLoad)
}

func TestResolveSectionConsumesInOrder(t *testing.T) {
	reg, err := LoadTemplates([]string{studentTemplate(t)})
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Remaining("Sheet1"))

	first, err := reg.ResolveSection("Sheet1", RepeatedBlock)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Row.SourceRow)

	second, err := reg.ResolveSection("Sheet1", RepeatedBlock)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Row.SourceRow)

	_, err = reg.ResolveSection("Sheet1", RepeatedBlock)
	assert.ErrorIs(t, err, ErrSectionExhausted)
	assert.Equal(t, 1, reg.Remaining("Sheet1"), "the static section is still there")

	_, err = reg.ResolveSection("Nope", StaticBlock)
	assert.ErrorIs(t, err, ErrUnknownSheet)
}

func TestRegistryClone(t *testing.T) {
	reg, err := LoadTemplates([]string{studentTemplate(t)})
	require.NoError(t, err)
	_, err = reg.ResolveSection("Sheet1", StaticBlock)
	require.NoError(t, err)

	clone := reg.Clone()
	assert.Equal(t, 2, reg.Remaining("Sheet1"))
	assert.Equal(t, 3, clone.Remaining("Sheet1"))

	sec, err := clone.ResolveSection("Sheet1", StaticBlock)
	require.NoError(t, err)
	assert.Same(t, reg.Sections("Sheet1")[0], sec, "sections are shared")
}

func TestLiteralValueKeepsType(t *testing.T) {
	path := writeTemplate(t, "typed.xlsx", func(f *excelize.File) {
		setRow(t, f, "Sheet1", 1, "label", 42, true)
		setRow(t, f, "Sheet1", 2, "$REP.x")
	})
	reg, err := LoadTemplates([]string{path})
	require.NoError(t, err)

	lead := reg.Sections("Sheet1")[0].Lead
	require.Len(t, lead, 1)
	require.Len(t, lead[0].Cells, 3)
	assert.Equal(t, "label", lead[0].Cells[0].literalValue())
	assert.Equal(t, float64(42), lead[0].Cells[1].literalValue())
	assert.Equal(t, true, lead[0].Cells[2].literalValue())
}
