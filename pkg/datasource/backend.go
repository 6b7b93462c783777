// Package datasource executes validated SELECT statements against warehouse
// backends. Each supported kind provides a narrow QueryBackend; the Executor
// layers the read-only guard, timeouts, row caps and result caching on top.
package datasource

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// QueryBackend is the narrow per-kind adapter surface.
type QueryBackend interface {
	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error
	// Query runs a single SELECT and materializes up to maxRows rows.
	// maxRows <= 0 means unbounded.
	Query(ctx context.Context, sql string, maxRows int) (*BackendResult, error)
	// ExtractSchema reads the table inventory for prompt construction.
	ExtractSchema(ctx context.Context) (*models.DatabaseSchema, error)
	Close() error
}

// BackendResult is the raw materialized output of one backend query.
type BackendResult struct {
	Columns   []models.ColumnInfo
	Rows      []map[string]any
	Truncated bool
}

// normalizeValue maps driver-specific scan values onto the engine's
// wire-friendly types: numeric, boolean, timestamp, string, null.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *big.Int:
		return val.String()
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case uint:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// normalizeTypeName folds a driver type name onto the engine's column type
// vocabulary.
func normalizeTypeName(dbType string) string {
	t := strings.ToLower(dbType)
	switch {
	case strings.Contains(t, "int"), strings.Contains(t, "float"),
		strings.Contains(t, "double"), strings.Contains(t, "decimal"),
		strings.Contains(t, "numeric"), strings.Contains(t, "real"),
		strings.Contains(t, "money"):
		return "numeric"
	case strings.Contains(t, "bool"):
		return "boolean"
	case strings.Contains(t, "time"), strings.Contains(t, "date"):
		return "timestamp"
	default:
		return "string"
	}
}

// columnsFromRows infers column type information from the first row that
// carries a non-nil value for each column.
func columnsFromRows(names []string, rows []map[string]any) []models.ColumnInfo {
	cols := make([]models.ColumnInfo, len(names))
	for i, name := range names {
		cols[i] = models.ColumnInfo{Name: name, Type: "string"}
		for _, row := range rows {
			if t := typeOfValue(row[name]); t != "" {
				cols[i].Type = t
				break
			}
		}
	}
	return cols
}

func typeOfValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case int64, float64:
		return "numeric"
	case bool:
		return "boolean"
	case string:
		if _, err := time.Parse(time.RFC3339, val); err == nil {
			return "timestamp"
		}
		return "string"
	default:
		return "string"
	}
}

// connString pulls a DSN out of a datasource connection map, preferring an
// explicit dsn entry.
func connString(conn map[string]any, key string) (string, error) {
	if dsn, ok := conn["dsn"].(string); ok && dsn != "" {
		return dsn, nil
	}
	if v, ok := conn[key].(string); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("connection is missing %q", key)
}
