package domain

import "strings"

// Block kinds accepted in an export job.
const (
	BlockStatic   = "static"
	BlockRepeated = "repeated"
)

// ExportJob describes one workbook: for each sheet, the blocks to append in
// order. It is decoded from JSON (HTTP) or YAML (CLI).
type ExportJob struct {
	Name   string     `json:"name" yaml:"name"`
	Sheets []SheetJob `json:"sheets" yaml:"sheets" validate:"required,min=1,dive"`
}

// SheetJob lists the blocks written to one sheet.
type SheetJob struct {
	Name   string     `json:"name" yaml:"name" validate:"required"`
	Blocks []BlockJob `json:"blocks" yaml:"blocks" validate:"required,min=1,dive"`
}

// BlockJob is one static or repeated block. A static block carries Cells. A
// repeated block carries either inline Fields and Rows or a Query.
type BlockJob struct {
	Kind   string          `json:"kind" yaml:"kind" validate:"required,oneof=static repeated"`
	Cells  []CellJob       `json:"cells,omitempty" yaml:"cells" validate:"dive"`
	Fields []string        `json:"fields,omitempty" yaml:"fields" validate:"required_with=Rows,dive,required"`
	Rows   [][]interface{} `json:"rows,omitempty" yaml:"rows"`
	Query  *QuerySpec      `json:"query,omitempty" yaml:"query" validate:"omitempty"`
}

// CellJob is a static label/value pair.
type CellJob struct {
	Name  string      `json:"name" yaml:"name" validate:"required"`
	Value interface{} `json:"value" yaml:"value"`
}

// Block sources a QuerySpec can name.
const (
	SourceSQL       = "sql"
	SourceElastic   = "elastic"
	SourceDatastore = "datastore"
)

// QuerySpec selects the records of a repeated block from a configured
// source. Table is the SQL table, search index or datastore kind. Column
// order becomes record field order.
type QuerySpec struct {
	Source  string   `json:"source,omitempty" yaml:"source" validate:"omitempty,oneof=sql elastic datastore"`
	Table   string   `json:"table" yaml:"table" validate:"required"`
	Columns []string `json:"columns" yaml:"columns" validate:"required,min=1,dive,required"`
	Filters []Filter `json:"filters,omitempty" yaml:"filters" validate:"dive"`
	OrderBy string   `json:"order_by,omitempty" yaml:"order_by"`
	Limit   int      `json:"limit,omitempty" yaml:"limit" validate:"gte=0"`
}

// Filter operators. Sources reject the ones they cannot express.
const (
	OpEq      = "="
	OpNe      = "!="
	OpLt      = "<"
	OpLte     = "<="
	OpGt      = ">"
	OpGte     = ">="
	OpLike    = "like"
	OpIn      = "in"
	OpIsNull  = "is null"
	OpNotNull = "is not null"
)

// Filter is one "column op value" condition. Filters of a query are ANDed.
// OpIn takes a list value; the null checks take none.
type Filter struct {
	Column string      `json:"column" yaml:"column" validate:"required"`
	Op     string      `json:"op" yaml:"op" validate:"required"`
	Value  interface{} `json:"value,omitempty" yaml:"value"`
}

// Operator returns Op lower-cased with whitespace collapsed and "<>" read
// as "!=".
func (f Filter) Operator() string {
	op := strings.ToLower(strings.Join(strings.Fields(f.Op), " "))
	if op == "<>" {
		return OpNe
	}
	return op
}

// SectionInfo describes one template section for listing endpoints.
type SectionInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Block    string   `json:"block,omitempty"`
	Fields   []string `json:"fields"`
	Row      int      `json:"row"`
	Lead     int      `json:"lead_rows"`
	Template string   `json:"template"`
}

// SheetInfo is the section layout of one sheet.
type SheetInfo struct {
	Name     string        `json:"name"`
	Sections []SectionInfo `json:"sections"`
}

// ExportResult summarises a finished export.
type ExportResult struct {
	JobID  string         `json:"job_id"`
	Sheets map[string]int `json:"sheets"`
	Bytes  int64          `json:"bytes"`
}

// BatchItem reports the outcome of one job of a batch export.
type BatchItem struct {
	Index  int           `json:"index"`
	Job    string        `json:"job"`
	Path   string        `json:"path"`
	Result *ExportResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}
