package tenant

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

// PlanLimits are the static resource ceilings for a plan tier.
type PlanLimits struct {
	RAGDocuments     int      `json:"rag_documents"`
	RAGQueriesPerMon int      `json:"rag_queries_per_month"`
	StorageGB        int      `json:"storage_gb"`
	MaxUsers         int      `json:"max_users"`
	Features         []string `json:"features"`
}

// planLimits is the static lookup table keyed by plan tier.
var planLimits = map[PlanTier]PlanLimits{
	PlanFree: {
		RAGDocuments:     100,
		RAGQueriesPerMon: 50,
		StorageGB:        1,
		MaxUsers:         5,
		Features:         []string{"basic-ai"},
	},
	PlanPro: {
		RAGDocuments:     10000,
		RAGQueriesPerMon: 1000,
		StorageGB:        50,
		MaxUsers:         50,
		Features:         []string{"basic-ai", "rag", "advanced-ai", "api-access"},
	},
	PlanEnterprise: {
		RAGDocuments:     Unlimited,
		RAGQueriesPerMon: Unlimited,
		StorageGB:        Unlimited,
		MaxUsers:         Unlimited,
		Features:         []string{"basic-ai", "rag", "advanced-ai", "api-access", "sso", "custom-models", "dedicated-support"},
	},
}

// LimitsForPlan returns the limits for a plan tier.
// Unknown tiers fall back to the free tier.
func LimitsForPlan(tier PlanTier) PlanLimits {
	if limits, ok := planLimits[tier]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

// AllowsDocuments reports whether count documents fit within the limit.
func (l PlanLimits) AllowsDocuments(count int) bool {
	return l.RAGDocuments == Unlimited || count <= l.RAGDocuments
}

// AllowsQueries reports whether count monthly queries fit within the limit.
func (l PlanLimits) AllowsQueries(count int) bool {
	return l.RAGQueriesPerMon == Unlimited || count <= l.RAGQueriesPerMon
}
