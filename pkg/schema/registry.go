// Package schema maintains the cached table inventories of registered data
// sources and prunes them to fit LLM prompt budgets.
package schema

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucidata-ai/lucid-engine/pkg/cache"
	"github.com/lucidata-ai/lucid-engine/pkg/datasource"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// prefetchConcurrency bounds parallel schema extraction.
const prefetchConcurrency = 4

// Registry serves schemas from the layered cache, extracting from the
// backend on miss and re-extracting when the descriptor fingerprint moves.
type Registry struct {
	sources *datasource.Registry
	cache   *cache.Layered
	logger  *zap.Logger
}

// NewRegistry wires a schema registry.
func NewRegistry(sources *datasource.Registry, c *cache.Layered, logger *zap.Logger) *Registry {
	return &Registry{sources: sources, cache: c, logger: logger.Named("schema")}
}

// Get returns the schema for a data source, from cache when fresh.
func (r *Registry) Get(ctx context.Context, dataSourceID string) (*models.DatabaseSchema, error) {
	ds, backend, err := r.sources.Resolve(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}

	if raw, ok := r.cache.GetSchema(ctx, dataSourceID); ok {
		var cached models.DatabaseSchema
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			if ds.SchemaFingerprint == "" || cached.Fingerprint == ds.SchemaFingerprint {
				return &cached, nil
			}
			r.logger.Info("schema fingerprint changed, re-extracting",
				zap.String("dataSourceId", dataSourceID))
		}
	}

	extracted, err := backend.ExtractSchema(ctx)
	if err != nil {
		return nil, err
	}
	extracted.DataSourceID = dataSourceID
	extracted.Dialect = ds.EffectiveDialect()
	extracted.Fingerprint = ds.SchemaFingerprint

	if encoded, err := json.Marshal(extracted); err == nil {
		r.cache.SetSchema(ctx, dataSourceID, string(encoded))
	}
	r.logger.Debug("schema extracted",
		zap.String("dataSourceId", dataSourceID),
		zap.Int("tables", len(extracted.Tables)))
	return extracted, nil
}

// Invalidate drops the cached schema for a data source.
func (r *Registry) Invalidate(ctx context.Context, dataSourceID string) {
	r.cache.InvalidateSchema(ctx, dataSourceID)
}

// Prefetch warms the cache for several data sources in parallel. Individual
// failures abort the group and are returned to the caller.
func (r *Registry) Prefetch(ctx context.Context, dataSourceIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, id := range dataSourceIDs {
		g.Go(func() error {
			_, err := r.Get(ctx, id)
			return err
		})
	}
	return g.Wait()
}
