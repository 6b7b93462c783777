package datasource

import (
	"context"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// MockBackend is a scriptable QueryBackend for tests and local wiring.
type MockBackend struct {
	QueryFunc  func(ctx context.Context, sql string, maxRows int) (*BackendResult, error)
	SchemaFunc func(ctx context.Context) (*models.DatabaseSchema, error)
	PingErr    error
	Queries    []string
	Closed     bool
}

// NewMockBackend returns a backend that answers every query with the given
// rows, capped at maxRows.
func NewMockBackend(rows []map[string]any) *MockBackend {
	return &MockBackend{
		QueryFunc: func(_ context.Context, _ string, maxRows int) (*BackendResult, error) {
			out := rows
			truncated := false
			if maxRows > 0 && len(out) > maxRows {
				out = out[:maxRows]
				truncated = true
			}
			var names []string
			if len(out) > 0 {
				for name := range out[0] {
					names = append(names, name)
				}
			}
			return &BackendResult{
				Columns:   columnsFromRows(names, out),
				Rows:      out,
				Truncated: truncated,
			}, nil
		},
	}
}

func (m *MockBackend) Ping(context.Context) error { return m.PingErr }

func (m *MockBackend) Query(ctx context.Context, sql string, maxRows int) (*BackendResult, error) {
	m.Queries = append(m.Queries, sql)
	return m.QueryFunc(ctx, sql, maxRows)
}

func (m *MockBackend) ExtractSchema(ctx context.Context) (*models.DatabaseSchema, error) {
	if m.SchemaFunc != nil {
		return m.SchemaFunc(ctx)
	}
	return &models.DatabaseSchema{}, nil
}

func (m *MockBackend) Close() error {
	m.Closed = true
	return nil
}
