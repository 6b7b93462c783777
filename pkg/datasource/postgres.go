package datasource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// PostgresBackend serves postgres and redshift data sources through pgx.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	dialect models.Dialect
}

// NewPostgresBackend opens a connection pool for the data source.
func NewPostgresBackend(ctx context.Context, ds *models.DataSource) (*PostgresBackend, error) {
	dsn, err := connString(ds.Connection, "connection_string")
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &PostgresBackend{pool: pool, dialect: ds.EffectiveDialect()}, nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Query(ctx context.Context, sql string, maxRows int) (*BackendResult, error) {
	rows, err := b.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}

	result := &BackendResult{}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.Columns = columnsFromRows(names, result.Rows)
	return result, nil
}

const postgresSchemaQuery = `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES'
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

func (b *PostgresBackend) ExtractSchema(ctx context.Context) (*models.DatabaseSchema, error) {
	rows, err := b.pool.Query(ctx, postgresSchemaQuery)
	if err != nil {
		return nil, fmt.Errorf("schema extraction failed: %w", err)
	}
	defer rows.Close()

	schema := &models.DatabaseSchema{Dialect: b.dialect}
	byTable := map[string]int{}
	for rows.Next() {
		var table, column, dataType string
		var nullable bool
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, err
		}
		idx, ok := byTable[table]
		if !ok {
			idx = len(schema.Tables)
			byTable[table] = idx
			schema.Tables = append(schema.Tables, models.TableSchema{Name: table})
		}
		schema.Tables[idx].Columns = append(schema.Tables[idx].Columns, models.ColumnSchema{
			Name:     column,
			Type:     normalizeTypeName(dataType),
			Nullable: nullable,
		})
	}
	return schema, rows.Err()
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
