package domain

import (
	"context"
	"errors"

	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

// ErrSourceUnavailable is returned for a query naming a block source that is
// not configured.
var ErrSourceUnavailable = errors.New("block source not configured")

// BlockRepository loads the records of a repeated block from a data store.
type BlockRepository interface {
	FetchRecords(ctx context.Context, q QuerySpec) ([]appendsheet.Record, error)
}
