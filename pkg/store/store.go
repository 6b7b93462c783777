// Package store persists conversation turns and usage records. The engine
// only appends and reads back recent history; billing aggregation happens
// elsewhere.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// Store is the persistence surface the request path depends on.
type Store interface {
	// SaveTurn appends one completed exchange to a conversation.
	SaveTurn(ctx context.Context, tenantID, conversationID string, turn models.ConversationTurn) error

	// Conversation returns the most recent turns of a conversation, oldest
	// first. A missing conversation yields an empty memory, not an error.
	Conversation(ctx context.Context, tenantID, conversationID string, limit int) (*models.ConversationMemory, error)

	// AppendUsage records resource consumption for billing.
	AppendUsage(ctx context.Context, rec models.UsageRecord) error
}

// MemoryStore keeps everything in process. Used in tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu    sync.Mutex
	turns map[string][]models.ConversationTurn
	usage []models.UsageRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]models.ConversationTurn)}
}

func convKey(tenantID, conversationID string) string {
	return tenantID + "/" + conversationID
}

func (s *MemoryStore) SaveTurn(_ context.Context, tenantID, conversationID string, turn models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey(tenantID, conversationID)
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

func (s *MemoryStore) Conversation(_ context.Context, tenantID, conversationID string, limit int) (*models.ConversationMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns[convKey(tenantID, conversationID)]
	sorted := make([]models.ConversationTurn, len(turns))
	copy(sorted, turns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return &models.ConversationMemory{ConversationID: conversationID, Turns: sorted}, nil
}

func (s *MemoryStore) AppendUsage(_ context.Context, rec models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, rec)
	return nil
}

// UsageRecords returns a copy of the recorded usage, for tests.
func (s *MemoryStore) UsageRecords() []models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}
