package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// PostgresStore persists conversations and usage in the engine's own
// Postgres database, separate from customer data sources.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects the store to the engine database.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping engine db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) SaveTurn(ctx context.Context, tenantID, conversationID string, turn models.ConversationTurn) error {
	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}
	query := `
		INSERT INTO engine_conversation_turns (
			id, tenant_id, conversation_id, query, sql_query, answer, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		uuid.New(), tenantID, conversationID, turn.Query, turn.SQLQuery, turn.Answer, at)
	if err != nil {
		return fmt.Errorf("failed to save conversation turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Conversation(ctx context.Context, tenantID, conversationID string, limit int) (*models.ConversationMemory, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT query, sql_query, answer, created_at
		FROM engine_conversation_turns
		WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		if err := rows.Scan(&t.Query, &t.SQLQuery, &t.Answer, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation rows: %w", err)
	}

	// Newest-first from the query; callers want oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return &models.ConversationMemory{ConversationID: conversationID, Turns: turns}, nil
}

func (s *PostgresStore) AppendUsage(ctx context.Context, rec models.UsageRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	query := `
		INSERT INTO engine_usage_records (
			id, tenant_id, user_id, kind, quantity, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		uuid.New(), rec.TenantID, rec.UserID, string(rec.Kind), rec.Quantity, at)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}
