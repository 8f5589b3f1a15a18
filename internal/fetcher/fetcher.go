// Package fetcher downloads disruption data from the NS reisinformatie API.
package fetcher

import (
	"context"

	"github.com/railsense/railwatch/internal/model"
)

// Fetcher is the external fetch collaborator for the pipeline: it returns
// the current batch of raw disruption records, or a fetch error after
// retries are exhausted.
type Fetcher interface {
	FetchDisruptions(ctx context.Context) ([]model.RawDisruption, error)
}
