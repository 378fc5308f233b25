package analytics

import (
	"context"
	"net/url"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// Service runs interaction queries
type Service interface {
	// RunQuery parses raw request parameters and produces an overview, an
	// entry sequence or a bucket series.
	RunQuery(ctx context.Context, params url.Values) (*interaction.Result, error)
}

// EventReader is the store capability the engine needs
type EventReader interface {
	interaction.Reader
}

// ResultCache stores finished results. Key binds a request fingerprint to the
// store's current generation, so a key obtained before an append never
// matches a result computed after it.
type ResultCache interface {
	Key(ctx context.Context, fingerprint string) (string, error)
	// Get returns nil, nil on a miss
	Get(ctx context.Context, key string) (*interaction.Result, error)
	Set(ctx context.Context, key string, result *interaction.Result) error
}
