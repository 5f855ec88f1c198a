// Package tenant resolves the caller's organization and user context.
//
// Every scoped operation in corpusd starts here: the Manager is the single
// source of truth for "who is asking, on behalf of which organization".
// Consumers must treat a missing organization as a hard precondition
// failure (ErrNoOrganization), never as an implicit default tenant.
package tenant

import (
	"strings"
	"time"
)

// PlanTier is the billing plan of an organization.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// Valid reports whether the tier is a known plan.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Role is the membership role of a user within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// Valid reports whether the role is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// OrgSettings holds per-organization product settings.
type OrgSettings struct {
	RAGEnabled     bool     `json:"rag_enabled"`
	RAGCorpusLimit int      `json:"rag_corpus_limit"`
	MaxUsers       int      `json:"max_users"`
	Features       []string `json:"features"`
}

// Organization is the isolation boundary for all corpus data.
type Organization struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Plan      PlanTier    `json:"plan"`
	Settings  OrgSettings `json:"settings"`
	CreatedAt time.Time   `json:"created_at"`
	OwnerID   string      `json:"owner_id"`
}

// HasFeature reports whether the organization's settings enable a feature.
func (o *Organization) HasFeature(feature string) bool {
	for _, f := range o.Settings.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// TenantUser is a user resolved within exactly one organization context.
type TenantUser struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	Permissions    []string  `json:"permissions"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasPermission reports whether the user satisfies a permission check.
// Owners implicitly satisfy every check; all other roles require the
// permission in their granted set.
func (u *TenantUser) HasPermission(permission string) bool {
	if u.Role == RoleOwner {
		return true
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// SanitizeIdentifier reduces a tenant identifier to lowercase alphanumeric
// characters and underscores, the only characters valid in collection and
// cache keys. Returns "local" if nothing survives.
func SanitizeIdentifier(s string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "local"
	}
	return result.String()
}
