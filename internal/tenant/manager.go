package tenant

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Sentinel errors for tenant context resolution.
var (
	// ErrNoOrganization is returned when no organization is resolved.
	// Scoped operations must fail with this before any I/O - there is
	// no implicit default tenant.
	ErrNoOrganization = errors.New("no organization context")

	// ErrNoUser is returned when no user is resolved.
	ErrNoUser = errors.New("no user context")

	// ErrInvalidOrganization is returned for organizations with missing
	// or invalid identity fields.
	ErrInvalidOrganization = errors.New("invalid organization")

	// ErrInvalidUser is returned for users with missing or invalid
	// identity fields.
	ErrInvalidUser = errors.New("invalid user")
)

// ChangeListener is notified when the active organization changes, so
// dependent caches can invalidate. The new organization may be nil when
// the context is cleared.
type ChangeListener func(org *Organization)

// Manager is the single source of truth for the session's active
// organization and user. State is restored from the SessionStore on first
// access and persisted on every change.
type Manager struct {
	store  SessionStore
	logger *zap.Logger

	mu        sync.RWMutex
	org       *Organization
	user      *TenantUser
	restored  bool
	listeners []ChangeListener
}

// NewManager creates a Manager backed by the given session store.
func NewManager(store SessionStore, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}, nil
}

// restoreLocked loads persisted state on first access. Callers must hold
// the write lock.
func (m *Manager) restoreLocked() {
	if m.restored {
		return
	}
	m.restored = true

	org, err := m.store.LoadOrganization()
	if err != nil {
		m.logger.Warn("failed to restore organization", zap.Error(err))
	} else if org != nil {
		m.org = org
	}

	user, err := m.store.LoadUser()
	if err != nil {
		m.logger.Warn("failed to restore user", zap.Error(err))
	} else if user != nil {
		m.user = user
	}
}

// CurrentOrganization returns the active organization, restoring it from
// durable state if not already resolved in memory. Returns nil if no
// organization is resolved.
func (m *Manager) CurrentOrganization() *Organization {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreLocked()
	return m.org
}

// CurrentOrgID returns the active organization id, the mandatory scoping
// key for every other component. Empty if no organization is resolved.
func (m *Manager) CurrentOrgID() string {
	if org := m.CurrentOrganization(); org != nil {
		return org.ID
	}
	return ""
}

// RequireOrgID returns the active organization id or ErrNoOrganization.
func (m *Manager) RequireOrgID() (string, error) {
	id := m.CurrentOrgID()
	if id == "" {
		return "", ErrNoOrganization
	}
	return id, nil
}

// SetCurrentOrganization switches the active organization, persists it,
// and notifies listeners so dependent caches can invalidate.
func (m *Manager) SetCurrentOrganization(org *Organization) error {
	if org == nil || org.ID == "" {
		return ErrInvalidOrganization
	}
	if !org.Plan.Valid() {
		return fmt.Errorf("%w: unknown plan %q", ErrInvalidOrganization, org.Plan)
	}

	m.mu.Lock()
	m.restoreLocked()
	m.org = org
	listeners := make([]ChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if err := m.store.SaveOrganization(org); err != nil {
		return fmt.Errorf("persisting organization: %w", err)
	}

	m.logger.Info("organization switched",
		zap.String("org_id", org.ID),
		zap.String("plan", string(org.Plan)),
	)

	for _, fn := range listeners {
		if fn != nil {
			fn(org)
		}
	}
	return nil
}

// CurrentUser returns the active user, restoring it from durable state if
// needed. Returns nil if no user is resolved.
func (m *Manager) CurrentUser() *TenantUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreLocked()
	return m.user
}

// SetCurrentUser sets the active user and persists it.
func (m *Manager) SetCurrentUser(user *TenantUser) error {
	if user == nil || user.ID == "" {
		return ErrInvalidUser
	}
	if !user.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, user.Role)
	}

	m.mu.Lock()
	m.restoreLocked()
	m.user = user
	m.mu.Unlock()

	if err := m.store.SaveUser(user); err != nil {
		return fmt.Errorf("persisting user: %w", err)
	}
	return nil
}

// HasPermission reports whether the current user satisfies a permission
// check. False when no user is resolved.
func (m *Manager) HasPermission(permission string) bool {
	user := m.CurrentUser()
	if user == nil {
		return false
	}
	return user.HasPermission(permission)
}

// HasFeature reports whether the current organization's settings enable a
// feature. False when no organization is resolved.
func (m *Manager) HasFeature(feature string) bool {
	org := m.CurrentOrganization()
	if org == nil {
		return false
	}
	return org.HasFeature(feature)
}

// PlanLimits returns the plan limits for the current organization,
// defaulting to the free tier when no organization is resolved.
func (m *Manager) PlanLimits() PlanLimits {
	org := m.CurrentOrganization()
	if org == nil {
		return LimitsForPlan(PlanFree)
	}
	return LimitsForPlan(org.Plan)
}

// Subscribe registers a listener for organization changes. The returned
// function removes the subscription.
func (m *Manager) Subscribe(fn ChangeListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[idx] = nil
	}
}

// ClearContext drops in-memory and durable session state (logout) and
// notifies listeners with a nil organization.
func (m *Manager) ClearContext() error {
	m.mu.Lock()
	m.restored = true
	m.org = nil
	m.user = nil
	listeners := make([]ChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clearing session state: %w", err)
	}

	m.logger.Info("tenant context cleared")

	for _, fn := range listeners {
		if fn != nil {
			fn(nil)
		}
	}
	return nil
}
