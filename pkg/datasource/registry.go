package datasource

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// RegistryStore resolves datasource ids to their descriptors. Implemented by
// the surrounding platform; an in-memory version backs tests and local runs.
type RegistryStore interface {
	GetDataSource(ctx context.Context, id string) (*models.DataSource, error)
}

// ErrNotFound is returned when a datasource id is unknown.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("data source %q not found", e.ID) }

// InMemoryStore is a map-backed RegistryStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	sources map[string]*models.DataSource
}

// NewInMemoryStore seeds a store with the given descriptors.
func NewInMemoryStore(sources ...*models.DataSource) *InMemoryStore {
	s := &InMemoryStore{sources: make(map[string]*models.DataSource, len(sources))}
	for _, ds := range sources {
		s.sources[ds.ID] = ds
	}
	return s
}

func (s *InMemoryStore) GetDataSource(_ context.Context, id string) (*models.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.sources[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return ds, nil
}

// Put adds or replaces a descriptor.
func (s *InMemoryStore) Put(ds *models.DataSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[ds.ID] = ds
}

// BackendFactory builds a QueryBackend for a descriptor.
type BackendFactory func(ctx context.Context, ds *models.DataSource) (QueryBackend, error)

// DefaultFactory dispatches on the datasource kind. Kinds without a native
// backend are reported as unsupported so the caller can classify the failure.
func DefaultFactory(ctx context.Context, ds *models.DataSource) (QueryBackend, error) {
	switch ds.Kind {
	case models.DataSourceKindPostgres, models.DataSourceKindRedshift:
		return NewPostgresBackend(ctx, ds)
	case models.DataSourceKindClickHouse:
		return NewClickHouseBackend(ds)
	case models.DataSourceKindMSSQL:
		return NewMSSQLBackend(ds)
	default:
		return nil, &UnsupportedKindError{Kind: ds.Kind}
	}
}

// UnsupportedKindError marks datasource kinds without an execution backend.
type UnsupportedKindError struct{ Kind models.DataSourceKind }

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("no execution backend for data source kind %q", e.Kind)
}

// Registry resolves datasource ids to live backends, reusing connections
// across requests.
type Registry struct {
	store   RegistryStore
	factory BackendFactory
	logger  *zap.Logger

	mu       sync.Mutex
	backends map[string]QueryBackend
}

// NewRegistry wires a registry over a descriptor store.
func NewRegistry(store RegistryStore, factory BackendFactory, logger *zap.Logger) *Registry {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Registry{
		store:    store,
		factory:  factory,
		logger:   logger.Named("datasource"),
		backends: make(map[string]QueryBackend),
	}
}

// Resolve returns the descriptor and a connected backend for id, creating
// the backend on first use.
func (r *Registry) Resolve(ctx context.Context, id string) (*models.DataSource, QueryBackend, error) {
	ds, err := r.store.GetDataSource(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	backend, ok := r.backends[id]
	r.mu.Unlock()
	if ok {
		return ds, backend, nil
	}

	backend, err = r.factory(ctx, ds)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	if existing, ok := r.backends[id]; ok {
		r.mu.Unlock()
		_ = backend.Close()
		return ds, existing, nil
	}
	r.backends[id] = backend
	r.mu.Unlock()

	r.logger.Info("connected data source backend",
		zap.String("dataSourceId", id),
		zap.String("kind", string(ds.Kind)))
	return ds, backend, nil
}

// Evict closes and forgets the backend for id, forcing a reconnect on the
// next resolve.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	backend, ok := r.backends[id]
	delete(r.backends, id)
	r.mu.Unlock()
	if ok {
		_ = backend.Close()
	}
}

// Close shuts down every live backend.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, backend := range r.backends {
		_ = backend.Close()
		delete(r.backends, id)
	}
}
