package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/repository/builder"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

// blockRepository reads repeated blocks from a SQL database.
type blockRepository struct {
	db *sql.DB
}

// NewBlockRepository creates a BlockRepository reading from db.
func NewBlockRepository(db *sql.DB) domain.BlockRepository {
	return &blockRepository{db: db}
}

func (r *blockRepository) FetchRecords(ctx context.Context, q domain.QuerySpec) ([]appendsheet.Record, error) {
	b := builder.NewSQLBuilder().Select(q.Columns...).From(q.Table)
	for _, f := range q.Filters {
		b.WhereOp(f.Column, f.Operator(), normalizeArg(f.Value))
	}
	query, args, err := b.OrderBy(q.OrderBy).Limit(q.Limit).BuildSafe()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Table, err)
	}
	defer rows.Close()

	var records []appendsheet.Record
	vals := make([]interface{}, len(q.Columns))
	ptrs := make([]interface{}, len(q.Columns))
	for rows.Next() {
		for i := range vals {
			vals[i] = nil
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s row %d: %w", q.Table, len(records)+1, err)
		}
		b := appendsheet.NewRecord()
		for i, col := range q.Columns {
			b.AddAny(col, vals[i])
		}
		rec, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", q.Table, len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", q.Table, err)
	}
	return records, nil
}
