package models

// DataSourceKind identifies the backend store behind a data source.
type DataSourceKind string

const (
	DataSourceKindPostgres   DataSourceKind = "postgres"
	DataSourceKindMySQL      DataSourceKind = "mysql"
	DataSourceKindClickHouse DataSourceKind = "clickhouse"
	DataSourceKindSnowflake  DataSourceKind = "snowflake"
	DataSourceKindBigQuery   DataSourceKind = "bigquery"
	DataSourceKindRedshift   DataSourceKind = "redshift"
	DataSourceKindDuckDB     DataSourceKind = "duckdb"
	DataSourceKindSQLite     DataSourceKind = "sqlite"
	DataSourceKindFile       DataSourceKind = "file"
	DataSourceKindMSSQL      DataSourceKind = "mssql"
)

// Dialect is the SQL variant a data source speaks.
type Dialect string

const (
	DialectPostgres   Dialect = "postgres"
	DialectMySQL      Dialect = "mysql"
	DialectClickHouse Dialect = "clickhouse"
	DialectMSSQL      Dialect = "mssql"
	DialectStandard   Dialect = "standard"
)

// DialectForKind returns the SQL dialect a data-source kind speaks.
func DialectForKind(kind DataSourceKind) Dialect {
	switch kind {
	case DataSourceKindPostgres, DataSourceKindRedshift, DataSourceKindDuckDB:
		return DialectPostgres
	case DataSourceKindMySQL:
		return DialectMySQL
	case DataSourceKindClickHouse:
		return DialectClickHouse
	case DataSourceKindMSSQL:
		return DialectMSSQL
	default:
		return DialectStandard
	}
}

// DataSource is a connection descriptor plus dialect for a backend store.
// Connection contents are opaque to the orchestration core; only the
// per-kind query backend interprets them.
type DataSource struct {
	ID                string         `json:"id"`
	Kind              DataSourceKind `json:"kind"`
	Dialect           Dialect        `json:"dialect"`
	Connection        map[string]any `json:"connection"`
	SchemaFingerprint string         `json:"schema_fingerprint,omitempty"`
}

// EffectiveDialect returns the configured dialect, falling back to the
// kind's default when unset.
func (d *DataSource) EffectiveDialect() Dialect {
	if d.Dialect != "" {
		return d.Dialect
	}
	return DialectForKind(d.Kind)
}
