package models

import "time"

// Role is a user's role within their organization.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleAnalyst  Role = "analyst"
	RoleEmployee Role = "employee"
	RoleViewer   Role = "viewer"
)

// ValidRoles contains all valid role values.
var ValidRoles = []Role{RoleAdmin, RoleManager, RoleAnalyst, RoleEmployee, RoleViewer}

// IsValidRole checks if the given role is valid.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// Plan is a tenant's subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanTeam       Plan = "team"
	PlanEnterprise Plan = "enterprise"
)

// UserRef identifies the requesting user. Opaque beyond id and role.
type UserRef struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Tenant carries the billing and quota envelope for one organization.
type Tenant struct {
	ID             string     `json:"id"`
	Plan           Plan       `json:"plan"`
	AICreditsUsed  int64      `json:"ai_credits_used"`
	AICreditsLimit int64      `json:"ai_credits_limit"`
	MaxProjects    int        `json:"max_projects"`
	MaxDataSources int        `json:"max_data_sources"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
}

// TrialExpired reports whether the tenant's trial has lapsed as of now.
// An expired trial downgrades the tenant to free-plan limits.
func (t *Tenant) TrialExpired(now time.Time) bool {
	return t.TrialEndsAt != nil && now.After(*t.TrialEndsAt)
}

// EffectivePlan returns the plan quota limits should be resolved from,
// accounting for trial expiry.
func (t *Tenant) EffectivePlan(now time.Time) Plan {
	if t.TrialExpired(now) {
		return PlanFree
	}
	return t.Plan
}

// UsageKind categorizes a usage record.
type UsageKind string

const (
	UsageKindAIQuery      UsageKind = "ai_query"
	UsageKindDataTransfer UsageKind = "data_transfer"
	UsageKindStorage      UsageKind = "storage"
)

// UsageRecord is an append-only record of resource consumption, persisted
// via the external persistence collaborator.
type UsageRecord struct {
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id"`
	Kind     UsageKind `json:"kind"`
	Quantity int64     `json:"quantity"`
	At       time.Time `json:"at"`
}
