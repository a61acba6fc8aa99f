package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

type namedRepo struct {
	name  string
	calls int
}

func (r *namedRepo) FetchRecords(_ context.Context, _ domain.QuerySpec) ([]appendsheet.Record, error) {
	r.calls++
	return []appendsheet.Record{appendsheet.NewRecord().Add("source", appendsheet.Text(r.name)).MustBuild()}, nil
}

func TestSourceRouter(t *testing.T) {
	sqlRepo := &namedRepo{name: "sql"}
	esRepo := &namedRepo{name: "elastic"}
	router := NewSourceRouter(Sources{SQL: sqlRepo, Elastic: esRepo})

	tests := []struct {
		source string
		want   string
	}{
		{"", "sql"},
		{domain.SourceSQL, "sql"},
		{domain.SourceElastic, "elastic"},
	}
	for _, tt := range tests {
		t.Run("source="+tt.source, func(t *testing.T) {
			records, err := router.FetchRecords(context.Background(), domain.QuerySpec{Source: tt.source, Table: "students", Columns: []string{"person"}})
			require.NoError(t, err)
			v, _ := records[0].Get("source")
			assert.Equal(t, tt.want, v.Text())
		})
	}
	assert.Equal(t, 2, sqlRepo.calls)
	assert.Equal(t, 1, esRepo.calls)

	_, err := router.FetchRecords(context.Background(), domain.QuerySpec{Source: domain.SourceDatastore, Table: "Student", Columns: []string{"person"}})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Errorf("FetchRecords(datastore) error = %v, want ErrSourceUnavailable", err)
	}
}

func TestSourceRouterWithoutSources(t *testing.T) {
	_, err := NewSourceRouter(Sources{}).FetchRecords(context.Background(), domain.QuerySpec{Table: "students", Columns: []string{"person"}})
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), `"sql"`)
}
