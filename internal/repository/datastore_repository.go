package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/datastore"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

// datastoreOps maps filter operators to datastore property filter operators.
var datastoreOps = map[string]string{
	domain.OpEq:  "=",
	domain.OpNe:  "!=",
	domain.OpLt:  "<",
	domain.OpLte: "<=",
	domain.OpGt:  ">",
	domain.OpGte: ">=",
	domain.OpIn:  "in",
}

// datastoreRepository reads repeated blocks from Cloud Datastore. Table
// names the entity kind and columns are property names.
type datastoreRepository struct {
	client *datastore.Client
}

// NewDatastoreRepository creates a BlockRepository over a datastore client.
func NewDatastoreRepository(client *datastore.Client) domain.BlockRepository {
	return &datastoreRepository{client: client}
}

func (r *datastoreRepository) FetchRecords(ctx context.Context, q domain.QuerySpec) ([]appendsheet.Record, error) {
	query, err := datastoreQuery(q)
	if err != nil {
		return nil, err
	}
	var entities []datastore.PropertyList
	if _, err := r.client.GetAll(ctx, query, &entities); err != nil {
		return nil, fmt.Errorf("querying kind %s: %w", q.Table, err)
	}
	return recordsFromEntities(q, entities)
}

func datastoreQuery(q domain.QuerySpec) (*datastore.Query, error) {
	query := datastore.NewQuery(q.Table)
	for _, f := range q.Filters {
		op := f.Operator()
		switch op {
		case domain.OpIsNull:
			query = query.FilterField(f.Column, "=", nil)
			continue
		case domain.OpIn:
			list, err := listValue(f)
			if err != nil {
				return nil, err
			}
			query = query.FilterField(f.Column, "in", list)
			continue
		}
		dsOp, ok := datastoreOps[op]
		if !ok {
			return nil, fmt.Errorf("operator %q on %s is not supported by datastore", f.Op, f.Column)
		}
		query = query.FilterField(f.Column, dsOp, normalizeArg(f.Value))
	}
	field, desc, err := splitOrder(q.OrderBy)
	if err != nil {
		return nil, err
	}
	if field != "" {
		if desc {
			field = "-" + field
		}
		query = query.Order(field)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query, nil
}

func recordsFromEntities(q domain.QuerySpec, entities []datastore.PropertyList) ([]appendsheet.Record, error) {
	records := make([]appendsheet.Record, 0, len(entities))
	for i, props := range entities {
		fields := make(map[string]interface{}, len(props))
		for _, p := range props {
			fields[p.Name] = p.Value
		}
		rec, err := recordFromFields(q, i+1, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
