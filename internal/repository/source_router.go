package repository

import (
	"context"
	"fmt"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

// Sources holds the configured block sources; nil entries are unavailable.
type Sources struct {
	SQL       domain.BlockRepository
	Elastic   domain.BlockRepository
	Datastore domain.BlockRepository
}

type sourceRouter struct {
	sources map[string]domain.BlockRepository
}

// NewSourceRouter dispatches each query to the source it names. A query
// without a source goes to SQL.
func NewSourceRouter(s Sources) domain.BlockRepository {
	m := make(map[string]domain.BlockRepository, 3)
	for name, repo := range map[string]domain.BlockRepository{
		domain.SourceSQL:       s.SQL,
		domain.SourceElastic:   s.Elastic,
		domain.SourceDatastore: s.Datastore,
	} {
		if repo != nil {
			m[name] = repo
		}
	}
	return &sourceRouter{sources: m}
}

func (r *sourceRouter) FetchRecords(ctx context.Context, q domain.QuerySpec) ([]appendsheet.Record, error) {
	name := q.Source
	if name == "" {
		name = domain.SourceSQL
	}
	repo, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrSourceUnavailable, name)
	}
	return repo.FetchRecords(ctx, q)
}
