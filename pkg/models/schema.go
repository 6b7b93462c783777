package models

// DatabaseSchema is the full table inventory of one data source, as
// extracted by its backend.
type DatabaseSchema struct {
	DataSourceID string        `json:"data_source_id"`
	Dialect      Dialect       `json:"dialect"`
	Tables       []TableSchema `json:"tables"`
	Fingerprint  string        `json:"fingerprint,omitempty"`
}

// TableSchema describes one table.
type TableSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Columns     []ColumnSchema `json:"columns"`
	RowEstimate int64          `json:"row_estimate,omitempty"`
}

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// TableNames lists the table names in declaration order.
func (s *DatabaseSchema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}
