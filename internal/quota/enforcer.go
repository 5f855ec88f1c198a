// Package quota enforces plan-tier resource ceilings before operations
// reach the retrieval backend.
package quota

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/tenant"
)

// Sentinel errors for quota enforcement.
var (
	// ErrQuotaExceeded is returned when an operation would breach a
	// plan-tier ceiling.
	ErrQuotaExceeded = errors.New("plan quota exceeded")

	// ErrFeatureDisabled is returned when the organization's plan or
	// settings do not enable the required feature.
	ErrFeatureDisabled = errors.New("feature not enabled for organization")
)

// rejections counts operations rejected by the enforcer, by reason.
var rejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corpusd",
		Subsystem: "quota",
		Name:      "rejections_total",
		Help:      "Total number of operations rejected by quota enforcement",
	},
	[]string{"reason"},
)

// LimitsProvider exposes the current organization's plan limits and
// feature flags. The tenant Manager satisfies this interface.
type LimitsProvider interface {
	PlanLimits() tenant.PlanLimits
	HasFeature(feature string) bool
}

// Enforcer rejects operations that would violate plan limits. It is
// stateless: callers supply the current usage figures.
type Enforcer struct {
	limits LimitsProvider
	logger *zap.Logger
}

// NewEnforcer creates an Enforcer over the given limits provider.
func NewEnforcer(limits LimitsProvider, logger *zap.Logger) (*Enforcer, error) {
	if limits == nil {
		return nil, fmt.Errorf("limits provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{limits: limits, logger: logger}, nil
}

// CheckDocumentQuota verifies that adding one more document keeps the
// corpus within the plan's document ceiling.
func (e *Enforcer) CheckDocumentQuota(currentDocuments int) error {
	limits := e.limits.PlanLimits()
	if limits.AllowsDocuments(currentDocuments + 1) {
		return nil
	}

	rejections.WithLabelValues("documents").Inc()
	e.logger.Warn("document quota exceeded",
		zap.Int("current", currentDocuments),
		zap.Int("limit", limits.RAGDocuments),
	)
	return fmt.Errorf("%w: %d documents, plan allows %d",
		ErrQuotaExceeded, currentDocuments, limits.RAGDocuments)
}

// CheckQueryQuota verifies that one more query keeps the month's usage
// within the plan's query ceiling.
func (e *Enforcer) CheckQueryQuota(queriesThisMonth int) error {
	limits := e.limits.PlanLimits()
	if limits.AllowsQueries(queriesThisMonth + 1) {
		return nil
	}

	rejections.WithLabelValues("queries").Inc()
	e.logger.Warn("query quota exceeded",
		zap.Int("current", queriesThisMonth),
		zap.Int("limit", limits.RAGQueriesPerMon),
	)
	return fmt.Errorf("%w: %d queries this month, plan allows %d",
		ErrQuotaExceeded, queriesThisMonth, limits.RAGQueriesPerMon)
}

// CheckFeature verifies that the organization's settings enable a feature.
func (e *Enforcer) CheckFeature(feature string) error {
	if e.limits.HasFeature(feature) {
		return nil
	}

	rejections.WithLabelValues("feature").Inc()
	return fmt.Errorf("%w: %s", ErrFeatureDisabled, feature)
}
