package database

import (
	"fmt"

	"github.com/olivere/elastic/v7"
)

// NewElasticClient connects to an Elasticsearch 7.x node at url.
func NewElasticClient(url string) (*elastic.Client, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(url),
		elastic.SetSniff(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return client, nil
}
