package datasource

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// MSSQLBackend serves SQL Server data sources.
type MSSQLBackend struct {
	db *sql.DB
}

// NewMSSQLBackend opens a connection for the data source.
func NewMSSQLBackend(ds *models.DataSource) (*MSSQLBackend, error) {
	dsn, err := connString(ds.Connection, "connection_string")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	return &MSSQLBackend{db: db}, nil
}

func (b *MSSQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *MSSQLBackend) Query(ctx context.Context, query string, maxRows int) (*BackendResult, error) {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return materializeSQLRows(rows, maxRows)
}

const mssqlSchemaQuery = `
SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE,
       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END
FROM INFORMATION_SCHEMA.COLUMNS c
JOIN INFORMATION_SCHEMA.TABLES t
  ON t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_SCHEMA = c.TABLE_SCHEMA
WHERE t.TABLE_TYPE = 'BASE TABLE'
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

func (b *MSSQLBackend) ExtractSchema(ctx context.Context) (*models.DatabaseSchema, error) {
	rows, err := b.db.QueryContext(ctx, mssqlSchemaQuery)
	if err != nil {
		return nil, fmt.Errorf("schema extraction failed: %w", err)
	}
	defer rows.Close()

	schema := &models.DatabaseSchema{Dialect: models.DialectMSSQL}
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

func (b *MSSQLBackend) Close() error {
	return b.db.Close()
}
