package appendsheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FieldDescriptor declares one field of a block.
type FieldDescriptor struct {
	Name     string
	Kind     Kind
	Required bool
	Nullable bool
	// Format is an optional custom number format applied to written cells.
	Format string
	// Style overrides parts of the template style for this field's cells.
	Style *StyleTemplate
}

// Block is a named, ordered list of field descriptors.
type Block struct {
	Name   string
	Open   bool
	Fields []FieldDescriptor
	index  map[string]int
}

// NewBlock builds a closed block from descriptors.
func NewBlock(name string, fields ...FieldDescriptor) *Block {
	b := &Block{Name: name, Fields: fields}
	b.reindex()
	return b
}

func (b *Block) reindex() {
	b.index = make(map[string]int, len(b.Fields))
	for i, f := range b.Fields {
		b.index[f.Name] = i
	}
}

// Field looks up a descriptor by name.
func (b *Block) Field(name string) (FieldDescriptor, bool) {
	i, ok := b.index[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return b.Fields[i], true
}

// Schema is the read-only set of blocks shared by every writer of an engine.
type Schema struct {
	blocks             []*Block
	byName             map[string]*Block
	allowUnknownStatic bool
}

// NewSchema assembles a schema from already-built blocks.
func NewSchema(allowUnknownStatic bool, blocks ...*Block) (*Schema, error) {
	s := &Schema{
		byName:             make(map[string]*Block, len(blocks)),
		allowUnknownStatic: allowUnknownStatic,
	}
	for _, b := range blocks {
		if b.Name == "" {
			return nil, fmt.Errorf("%w: block name is required", ErrSchemaParse)
		}
		if _, dup := s.byName[b.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate block %q", ErrSchemaParse, b.Name)
		}
		seen := make(map[string]struct{}, len(b.Fields))
		for i, f := range b.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("%w: block %q field[%d]: name is required", ErrSchemaParse, b.Name, i)
			}
			if _, dup := seen[f.Name]; dup {
				return nil, fmt.Errorf("%w: block %q: duplicate field %q", ErrSchemaParse, b.Name, f.Name)
			}
			seen[f.Name] = struct{}{}
		}
		b.reindex()
		s.blocks = append(s.blocks, b)
		s.byName[b.Name] = b
	}
	return s, nil
}

// AllowsUnknownStatic reports whether static writes may carry labels that no
// block declares.
func (s *Schema) AllowsUnknownStatic() bool { return s.allowUnknownStatic }

// Blocks returns block names in declaration order.
func (s *Schema) Blocks() []string {
	names := make([]string, len(s.blocks))
	for i, b := range s.blocks {
		names[i] = b.Name
	}
	return names
}

// Block returns the named block.
func (s *Schema) Block(name string) (*Block, error) {
	b, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, name)
	}
	return b, nil
}

// Describe returns a copy of the named block's field descriptors.
func (s *Schema) Describe(name string) ([]FieldDescriptor, error) {
	b, err := s.Block(name)
	if err != nil {
		return nil, err
	}
	out := make([]FieldDescriptor, len(b.Fields))
	copy(out, b.Fields)
	return out, nil
}

// BlockFor finds the block whose field set equals fields. Failing that, the
// first block declaring every one of fields is returned.
func (s *Schema) BlockFor(fields []string) (*Block, error) {
	var superset *Block
	for _, b := range s.blocks {
		covered := true
		for _, f := range fields {
			if _, ok := b.index[f]; !ok {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		if len(b.Fields) == len(fields) {
			return b, nil
		}
		if superset == nil {
			superset = b
		}
	}
	if superset != nil {
		return superset, nil
	}
	return nil, fmt.Errorf("%w: no block declares fields [%s]", ErrUnknownBlock, strings.Join(fields, ", "))
}

// validateValue checks one value against its descriptor.
func validateValue(blk string, row int, fd FieldDescriptor, v Value) error {
	if v.IsNull() {
		if fd.Nullable {
			return nil
		}
		return &ValidationError{Block: blk, Row: row, Field: fd.Name, Expected: fd.Kind, Got: KindNull, Reason: "null value for non-nullable field"}
	}
	if v.Kind() == fd.Kind {
		return nil
	}
	if fd.Kind == KindDecimal && v.Kind() == KindInteger {
		return nil
	}
	return &ValidationError{Block: blk, Row: row, Field: fd.Name, Expected: fd.Kind, Got: v.Kind()}
}

// =============================================================================
// YAML schema documents
// =============================================================================

type schemaDocument struct {
	AllowUnknownStatic bool            `yaml:"allow_unknown_static"`
	Blocks             []blockDocument `yaml:"blocks" validate:"required,dive"`
}

type blockDocument struct {
	Name     string          `yaml:"name" validate:"required"`
	Open     bool            `yaml:"open"`
	Defaults fieldDocument   `yaml:"defaults" validate:"-"`
	Fields   []fieldDocument `yaml:"fields" validate:"dive"`
}

type fieldDocument struct {
	Name     string         `yaml:"name" validate:"required"`
	Kind     string         `yaml:"kind"`
	Required *bool          `yaml:"required"`
	Nullable *bool          `yaml:"nullable"`
	Format   string         `yaml:"format"`
	Style    *StyleTemplate `yaml:"style"`
}

var schemaValidator = newSchemaValidator()

func newSchemaValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseSchema reads a YAML schema document:
//
//	allow_unknown_static: true
//	blocks:
//	  - name: students
//	    defaults: {nullable: true}
//	    fields:
//	      - {name: person, kind: text, required: true}
//	      - {name: gpa, kind: decimal, format: "0.00"}
//
// Block defaults fill any field attribute the field leaves unset.
func ParseSchema(r io.Reader) (*Schema, error) {
	var doc schemaDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrSchemaParse)
		}
		return nil, fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}
	if err := schemaValidator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaParse, describeValidation(err))
	}

	blocks := make([]*Block, 0, len(doc.Blocks))
	for bi, bd := range doc.Blocks {
		blk := &Block{Name: bd.Name, Open: bd.Open}
		for fi, fd := range bd.Fields {
			if err := mergo.Merge(&fd, bd.Defaults, mergo.WithoutDereference); err != nil {
				return nil, fmt.Errorf("%w: blocks[%d].fields[%d]: %v", ErrSchemaParse, bi, fi, err)
			}
			kind, err := ParseKind(fd.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: block %q field %q: %v", ErrSchemaParse, bd.Name, fd.Name, err)
			}
			blk.Fields = append(blk.Fields, FieldDescriptor{
				Name:     fd.Name,
				Kind:     kind,
				Required: fd.Required != nil && *fd.Required,
				Nullable: fd.Nullable != nil && *fd.Nullable,
				Format:   fd.Format,
				Style:    fd.Style,
			})
		}
		blocks = append(blocks, blk)
	}
	return NewSchema(doc.AllowUnknownStatic, blocks...)
}

// ParseSchemaBytes is ParseSchema over an in-memory document.
func ParseSchemaBytes(data []byte) (*Schema, error) {
	return ParseSchema(bytes.NewReader(data))
}

// LoadSchema parses the schema file at path.
func LoadSchema(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}
	defer f.Close()
	return ParseSchema(f)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := strings.TrimPrefix(fe.Namespace(), "schemaDocument.")
		msgs = append(msgs, fmt.Sprintf("%s is %s", ns, fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
