package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/tenant"
)

// stubLimits is a fixed LimitsProvider for tests.
type stubLimits struct {
	limits   tenant.PlanLimits
	features map[string]bool
}

func (s *stubLimits) PlanLimits() tenant.PlanLimits { return s.limits }
func (s *stubLimits) HasFeature(f string) bool      { return s.features[f] }

func newEnforcer(t *testing.T, tier tenant.PlanTier, features ...string) *Enforcer {
	t.Helper()
	fm := make(map[string]bool, len(features))
	for _, f := range features {
		fm[f] = true
	}
	e, err := NewEnforcer(&stubLimits{limits: tenant.LimitsForPlan(tier), features: fm}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestNewEnforcer_RequiresProvider(t *testing.T) {
	_, err := NewEnforcer(nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limits provider is required")
}

func TestCheckDocumentQuota(t *testing.T) {
	tests := []struct {
		name    string
		tier    tenant.PlanTier
		current int
		wantErr bool
	}{
		{"free under limit", tenant.PlanFree, 0, false},
		{"free at boundary", tenant.PlanFree, 99, false},
		{"free over limit", tenant.PlanFree, 100, true},
		{"pro under limit", tenant.PlanPro, 9000, false},
		{"enterprise unlimited", tenant.PlanEnterprise, 1 << 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newEnforcer(t, tt.tier).CheckDocumentQuota(tt.current)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrQuotaExceeded)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckQueryQuota(t *testing.T) {
	e := newEnforcer(t, tenant.PlanFree)

	assert.NoError(t, e.CheckQueryQuota(49))
	assert.ErrorIs(t, e.CheckQueryQuota(50), ErrQuotaExceeded)

	assert.NoError(t, newEnforcer(t, tenant.PlanEnterprise).CheckQueryQuota(1<<20))
}

func TestCheckFeature(t *testing.T) {
	e := newEnforcer(t, tenant.PlanPro, "rag")

	assert.NoError(t, e.CheckFeature("rag"))
	assert.ErrorIs(t, e.CheckFeature("sso"), ErrFeatureDisabled)
}
