package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olivere/elastic/v7"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

const scrollPageSize = 1000

// searchRepository reads repeated blocks from an Elasticsearch index. Table
// names the index and columns are document fields (dotted paths allowed).
type searchRepository struct {
	client *elastic.Client
}

// NewSearchRepository creates a BlockRepository over an Elasticsearch client.
func NewSearchRepository(client *elastic.Client) domain.BlockRepository {
	return &searchRepository{client: client}
}

func (r *searchRepository) FetchRecords(ctx context.Context, q domain.QuerySpec) ([]appendsheet.Record, error) {
	query, err := searchQuery(q.Filters)
	if err != nil {
		return nil, err
	}
	field, desc, err := splitOrder(q.OrderBy)
	if err != nil {
		return nil, err
	}
	fsc := elastic.NewFetchSourceContext(true).Include(q.Columns...)

	if q.Limit > 0 {
		search := r.client.Search().Index(q.Table).Query(query).FetchSourceContext(fsc).Size(q.Limit)
		if field != "" {
			search = search.Sort(field, !desc)
		}
		res, err := search.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", q.Table, err)
		}
		var records []appendsheet.Record
		if res.Hits != nil {
			return appendHits(records, q, res.Hits.Hits)
		}
		return records, nil
	}

	scroll := r.client.Scroll(q.Table).Query(query).FetchSourceContext(fsc).Size(scrollPageSize).KeepAlive("2m")
	if field != "" {
		scroll = scroll.Sort(field, !desc)
	} else {
		scroll = scroll.Sort("_doc", true)
	}
	defer scroll.Clear(context.Background())

	var records []appendsheet.Record
	for {
		res, err := scroll.Do(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", q.Table, err)
		}
		records, err = appendHits(records, q, res.Hits.Hits)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func appendHits(records []appendsheet.Record, q domain.QuerySpec, hits []*elastic.SearchHit) ([]appendsheet.Record, error) {
	for _, hit := range hits {
		var doc map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(hit.Source))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding %s document %s: %w", q.Table, hit.Id, err)
		}
		fields := make(map[string]interface{}, len(q.Columns))
		for _, col := range q.Columns {
			fields[col] = lookupPath(doc, col)
		}
		rec, err := recordFromFields(q, len(records)+1, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// lookupPath resolves "a.b.c" through nested objects, falling back to a
// literal key containing dots.
func lookupPath(doc map[string]interface{}, path string) interface{} {
	if v, ok := doc[path]; ok {
		return v
	}
	cur := doc
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			return v
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}

// searchQuery translates filters into a bool query of filter/must_not
// clauses.
func searchQuery(filters []domain.Filter) (elastic.Query, error) {
	if len(filters) == 0 {
		return elastic.NewMatchAllQuery(), nil
	}
	bq := elastic.NewBoolQuery()
	for _, f := range filters {
		v := normalizeArg(f.Value)
		switch f.Operator() {
		case domain.OpEq:
			bq.Filter(elastic.NewTermQuery(f.Column, v))
		case domain.OpNe:
			bq.MustNot(elastic.NewTermQuery(f.Column, v))
		case domain.OpLt:
			bq.Filter(elastic.NewRangeQuery(f.Column).Lt(v))
		case domain.OpLte:
			bq.Filter(elastic.NewRangeQuery(f.Column).Lte(v))
		case domain.OpGt:
			bq.Filter(elastic.NewRangeQuery(f.Column).Gt(v))
		case domain.OpGte:
			bq.Filter(elastic.NewRangeQuery(f.Column).Gte(v))
		case domain.OpLike:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("operator like on %s needs a text value", f.Column)
			}
			bq.Filter(elastic.NewWildcardQuery(f.Column, likeToWildcard(s)))
		case domain.OpIn:
			list, err := listValue(f)
			if err != nil {
				return nil, err
			}
			bq.Filter(elastic.NewTermsQuery(f.Column, list...))
		case domain.OpIsNull:
			bq.MustNot(elastic.NewExistsQuery(f.Column))
		case domain.OpNotNull:
			bq.Filter(elastic.NewExistsQuery(f.Column))
		default:
			return nil, fmt.Errorf("unsupported operator %q on %s", f.Op, f.Column)
		}
	}
	return bq, nil
}

// likeToWildcard rewrites SQL LIKE wildcards (% and _) for a wildcard query.
func likeToWildcard(s string) string {
	return strings.NewReplacer("*", `\*`, "?", `\?`, "%", "*", "_", "?").Replace(s)
}
