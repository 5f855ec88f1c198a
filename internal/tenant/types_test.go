package tenant

import "testing"

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already clean", "acme", "acme"},
		{"uppercase folded", "Acme Corp", "acmecorp"},
		{"underscores kept", "acme_corp", "acme_corp"},
		{"specials dropped", "acme!@#corp", "acmecorp"},
		{"digits kept", "org42", "org42"},
		{"nothing survives", "!!!", "local"},
		{"empty", "", "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeIdentifier(tt.in); got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleOwner, RoleAdmin, RoleMember, RoleGuest} {
		if !r.Valid() {
			t.Errorf("Role(%q).Valid() = false, want true", r)
		}
	}
	if Role("superuser").Valid() {
		t.Error(`Role("superuser").Valid() = true, want false`)
	}
}

func TestPlanTier_Valid(t *testing.T) {
	for _, p := range []PlanTier{PlanFree, PlanPro, PlanEnterprise} {
		if !p.Valid() {
			t.Errorf("PlanTier(%q).Valid() = false, want true", p)
		}
	}
	if PlanTier("platinum").Valid() {
		t.Error(`PlanTier("platinum").Valid() = true, want false`)
	}
}

func TestLimitsForPlan(t *testing.T) {
	free := LimitsForPlan(PlanFree)
	if free.RAGDocuments != 100 {
		t.Errorf("free RAGDocuments = %d, want 100", free.RAGDocuments)
	}

	ent := LimitsForPlan(PlanEnterprise)
	if ent.RAGDocuments != Unlimited {
		t.Errorf("enterprise RAGDocuments = %d, want Unlimited", ent.RAGDocuments)
	}

	// Unknown tiers fall back to free.
	if got := LimitsForPlan(PlanTier("platinum")); got.RAGDocuments != free.RAGDocuments {
		t.Errorf("unknown tier limits = %+v, want free tier", got)
	}
}

func TestPlanLimits_Allows(t *testing.T) {
	free := LimitsForPlan(PlanFree)
	if !free.AllowsDocuments(100) {
		t.Error("AllowsDocuments(100) = false, want true")
	}
	if free.AllowsDocuments(101) {
		t.Error("AllowsDocuments(101) = true, want false")
	}
	if !LimitsForPlan(PlanEnterprise).AllowsQueries(1 << 20) {
		t.Error("enterprise AllowsQueries = false, want true")
	}
}
