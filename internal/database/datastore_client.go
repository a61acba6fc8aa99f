package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/datastore"
)

// NewDatastoreClient opens a Cloud Datastore client for project. The
// DATASTORE_EMULATOR_HOST variable points it at a local emulator.
func NewDatastoreClient(ctx context.Context, project string) (*datastore.Client, error) {
	if project == "" {
		return nil, fmt.Errorf("datastore project is empty")
	}
	client, err := datastore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	return client, nil
}
