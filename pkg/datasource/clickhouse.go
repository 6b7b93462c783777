package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// ClickHouseBackend serves clickhouse data sources over the native protocol
// through the driver's database/sql facade.
type ClickHouseBackend struct {
	db *sql.DB
}

// NewClickHouseBackend opens a connection for the data source.
func NewClickHouseBackend(ds *models.DataSource) (*ClickHouseBackend, error) {
	addr, err := connString(ds.Connection, "addr")
	if err != nil {
		return nil, err
	}
	opts := &clickhouse.Options{Addr: []string{addr}}
	if db, ok := ds.Connection["database"].(string); ok {
		opts.Auth.Database = db
	}
	if user, ok := ds.Connection["username"].(string); ok {
		opts.Auth.Username = user
	}
	if pass, ok := ds.Connection["password"].(string); ok {
		opts.Auth.Password = pass
	}
	return &ClickHouseBackend{db: clickhouse.OpenDB(opts)}, nil
}

func (b *ClickHouseBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *ClickHouseBackend) Query(ctx context.Context, query string, maxRows int) (*BackendResult, error) {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return materializeSQLRows(rows, maxRows)
}

const clickhouseSchemaQuery = `
SELECT table, name, type
FROM system.columns
WHERE database = currentDatabase()
ORDER BY table, position`

func (b *ClickHouseBackend) ExtractSchema(ctx context.Context) (*models.DatabaseSchema, error) {
	rows, err := b.db.QueryContext(ctx, clickhouseSchemaQuery)
	if err != nil {
		return nil, fmt.Errorf("schema extraction failed: %w", err)
	}
	defer rows.Close()

	schema := &models.DatabaseSchema{Dialect: models.DialectClickHouse}
	byTable := map[string]int{}
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, err
		}
		idx, ok := byTable[table]
		if !ok {
			idx = len(schema.Tables)
			byTable[table] = idx
			schema.Tables = append(schema.Tables, models.TableSchema{Name: table})
		}
		schema.Tables[idx].Columns = append(schema.Tables[idx].Columns, models.ColumnSchema{
			Name: column,
			Type: normalizeTypeName(dataType),
		})
	}
	return schema, rows.Err()
}

func (b *ClickHouseBackend) Close() error {
	return b.db.Close()
}
