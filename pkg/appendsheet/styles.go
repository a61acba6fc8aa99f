package appendsheet

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/tiendc/go-deepcopy"
	"github.com/xuri/excelize/v2"
)

// StyleTemplate is a partial style declared in the schema. Set parts replace
// the matching parts of the style captured from the template cell.
type StyleTemplate struct {
	Font      *FontTemplate      `yaml:"font" json:"font,omitempty"`
	Fill      *FillTemplate      `yaml:"fill" json:"fill,omitempty"`
	Alignment *AlignmentTemplate `yaml:"alignment" json:"alignment,omitempty"`
}

type AlignmentTemplate struct {
	Horizontal string `yaml:"horizontal" json:"horizontal,omitempty"` // center, left, right
	Vertical   string `yaml:"vertical" json:"vertical,omitempty"`     // top, center, bottom
	WrapText   bool   `yaml:"wrap_text" json:"wrap_text,omitempty"`
}

type FontTemplate struct {
	Bold   bool    `yaml:"bold" json:"bold,omitempty"`
	Italic bool    `yaml:"italic" json:"italic,omitempty"`
	Size   float64 `yaml:"size" json:"size,omitempty"`
	Color  string  `yaml:"color" json:"color,omitempty"` // Hex color
}

type FillTemplate struct {
	Color string `yaml:"color" json:"color,omitempty"` // Hex color
}

func (t *StyleTemplate) toExcelize() *excelize.Style {
	style := &excelize.Style{}
	if t == nil {
		return style
	}
	if t.Font != nil {
		style.Font = &excelize.Font{
			Bold:   t.Font.Bold,
			Italic: t.Font.Italic,
			Size:   t.Font.Size,
			Color:  strings.TrimPrefix(t.Font.Color, "#"),
		}
	}
	if t.Fill != nil {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Color:   []string{strings.TrimPrefix(t.Fill.Color, "#")},
			Pattern: 1,
		}
	}
	if t.Alignment != nil {
		style.Alignment = &excelize.Alignment{
			Horizontal: t.Alignment.Horizontal,
			Vertical:   t.Alignment.Vertical,
			WrapText:   t.Alignment.WrapText,
		}
	}
	return style
}

// defaultDateNumFmt is the built-in "m/d/yy h:mm" format.
const defaultDateNumFmt = 22

type styleKey struct {
	template int
	source   int
	field    string
}

// styleCache registers template styles in the output workbook once per
// (template, source style, field) combination.
type styleCache struct {
	file *excelize.File
	ids  map[styleKey]int
}

func newStyleCache(f *excelize.File) *styleCache {
	return &styleCache{file: f, ids: make(map[styleKey]int)}
}

// resolve returns the output style id for a template cell, applying the
// field's format and style overrides when fd is set.
func (c *styleCache) resolve(templateIndex int, cell *CellTemplate, fd *FieldDescriptor) (int, error) {
	key := styleKey{template: templateIndex, source: -1}
	if cell != nil {
		key.source = cell.SourceStyle
	}
	if fd != nil {
		key.field = fd.Name
	}
	if id, ok := c.ids[key]; ok {
		return id, nil
	}

	style := &excelize.Style{}
	if cell != nil && cell.Style != nil {
		if err := deepcopy.Copy(style, cell.Style); err != nil {
			return 0, fmt.Errorf("copying template style: %w", err)
		}
	}
	if fd != nil {
		if fd.Style != nil {
			if err := mergo.Merge(style, fd.Style.toExcelize(), mergo.WithOverride); err != nil {
				return 0, fmt.Errorf("merging style for field %q: %w", fd.Name, err)
			}
		}
		if fd.Format != "" {
			format := fd.Format
			style.CustomNumFmt = &format
		} else if fd.Kind == KindDate && style.NumFmt == 0 && style.CustomNumFmt == nil {
			style.NumFmt = defaultDateNumFmt
		}
	}

	id := 0
	if !isZeroStyle(style) {
		var err error
		if id, err = c.file.NewStyle(style); err != nil {
			return 0, fmt.Errorf("registering style: %w", err)
		}
	}
	c.ids[key] = id
	return id, nil
}

func isZeroStyle(s *excelize.Style) bool {
	return len(s.Border) == 0 && s.Fill.Type == "" && s.Font == nil && s.Alignment == nil &&
		s.Protection == nil && s.NumFmt == 0 && s.DecimalPlaces == nil && s.CustomNumFmt == nil
}
