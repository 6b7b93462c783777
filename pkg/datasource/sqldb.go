package datasource

import (
	"database/sql"
)

// materializeSQLRows drains a database/sql result set into the engine row
// shape, honoring the row cap. Shared by the clickhouse and mssql backends.
func materializeSQLRows(rows *sql.Rows, maxRows int) (*BackendResult, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &BackendResult{}
	scanTargets := make([]any, len(names))
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(names))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
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
