package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/backend"
	"github.com/peakai/corpusd/internal/corpus"
	"github.com/peakai/corpusd/internal/quota"
	"github.com/peakai/corpusd/internal/tenant"
)

// stubBackend is a minimal in-memory backend for handler tests.
type stubBackend struct {
	results []backend.ScoredChunk
}

func (s *stubBackend) ImportDocument(ctx context.Context, corpusID string, doc backend.Document) (int, error) {
	return 1, nil
}

func (s *stubBackend) RetrieveContexts(ctx context.Context, corpusID, query string, opts backend.RetrieveOptions) ([]backend.ScoredChunk, error) {
	k := opts.TopK
	if k > len(s.results) {
		k = len(s.results)
	}
	return s.results[:k], nil
}

func (s *stubBackend) DeleteDocument(ctx context.Context, corpusID, documentID string) error {
	return nil
}

func (s *stubBackend) Close() error { return nil }

func newTestServer(t *testing.T, store backend.Backend) (*Server, *tenant.Manager) {
	t.Helper()

	tenants, err := tenant.NewManager(tenant.NewMemorySessionStore(), zap.NewNop())
	require.NoError(t, err)

	enforcer, err := quota.NewEnforcer(tenants, zap.NewNop())
	require.NoError(t, err)

	ingestor, err := corpus.NewIngestor(tenants, enforcer, corpus.NewMemoryCache(), store, zap.NewNop())
	require.NoError(t, err)

	engine, err := corpus.NewEngine(tenants, enforcer, ingestor, store, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(tenants, ingestor, engine, zap.NewNop(), Config{})
	require.NoError(t, err)
	return srv, tenants
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func signInOrg(t *testing.T, tenants *tenant.Manager, orgID string, plan tenant.PlanTier) {
	t.Helper()
	require.NoError(t, tenants.SetCurrentOrganization(&tenant.Organization{
		ID: orgID, Name: orgID, Plan: plan, OwnerID: "u1",
	}))
}

func TestServerAddr(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})
	assert.Equal(t, "localhost:9090", srv.addr())

	custom, err := NewServer(srv.tenants, srv.ingestor, srv.engine, zap.NewNop(), Config{
		Host: "0.0.0.0",
		Port: 8123,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8123", custom.addr())
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/session/organization",
		`{"id":"acme","name":"Acme","plan":"pro"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/session/user",
		`{"id":"u1","organization_id":"acme","role":"owner"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var session SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotNil(t, session.Organization)
	assert.Equal(t, "acme", session.Organization.ID)
	require.NotNil(t, session.User)
	assert.Equal(t, tenant.RoleOwner, session.User.Role)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/session", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	session = SessionResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Nil(t, session.Organization)
}

func TestSetOrganization_InvalidRejected(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/session/organization",
		`{"id":"","plan":"pro"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddDocument_NoOrganization(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents",
		`{"source_type":"file","source_id":"f1","content":"hello","metadata":{"organization_id":"acme"}}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestAddDocument_TenantMismatch(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents",
		`{"source_type":"file","source_id":"f1","content":"hello","metadata":{"organization_id":"globex"}}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAddAndDeleteDocument(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents",
		`{"source_type":"file","source_id":"f1","content":"hello","metadata":{"title":"Doc","organization_id":"acme"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc corpus.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc.ID, "doc_")
	assert.Equal(t, "corpus_acme", doc.CorpusID)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/"+doc.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteDocument_UnknownIsGeneric404(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/documents/doc_nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
	// No hint about other tenants.
	assert.NotContains(t, rec.Body.String(), "organization")
}

func TestSyncEntity(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sync",
		`{"type":"meeting","id":"m1","title":"Standup","content":"notes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc corpus.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, corpus.SourceMeeting, doc.SourceType)
	assert.Equal(t, "acme", doc.Metadata.OrganizationID)
}

func TestSyncEntity_UnknownType(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sync",
		`{"type":"spreadsheet","id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearCorpus_PermissionMapping(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)
	require.NoError(t, tenants.SetCurrentUser(&tenant.TenantUser{
		ID: "u2", OrganizationID: "acme", Role: tenant.RoleGuest,
	}))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/corpus/clear", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, tenants.SetCurrentUser(&tenant.TenantUser{
		ID: "u1", OrganizationID: "acme", Role: tenant.RoleOwner,
	}))
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/corpus/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCorpusStats(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents",
		`{"source_type":"note","source_id":"n1","content":"hello","metadata":{"organization_id":"acme"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/corpus/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats corpus.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalDocuments)
}

func TestQuery(t *testing.T) {
	store := &stubBackend{results: []backend.ScoredChunk{
		{ChunkID: "c1", DocumentID: "d1", Content: "alpha", RelevanceScore: 0.9},
		{ChunkID: "c2", DocumentID: "d2", Content: "beta", RelevanceScore: 0.5},
	}}
	srv, tenants := newTestServer(t, store)
	signInOrg(t, tenants, "acme", tenant.PlanPro)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/query",
		`{"text":"q4 revenue","options":{"top_k":2}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result corpus.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "c1", result.Chunks[0].ID)
	assert.Equal(t, 2, result.TotalResults)
}

func TestQuery_NoOrganization(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/query", `{"text":"anything"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestQuery_QuotaMapsTo429(t *testing.T) {
	srv, tenants := newTestServer(t, &stubBackend{})
	signInOrg(t, tenants, "tiny", tenant.PlanFree)

	limit := tenant.LimitsForPlan(tenant.PlanFree).RAGQueriesPerMon
	for i := 0; i < limit; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/query",
			fmt.Sprintf(`{"text":"query %d"}`, i))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/query", `{"text":"over the line"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	// Generate at least one observation so the counter is exposed.
	doJSON(t, srv, http.MethodGet, "/health", "")

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "corpusd_http_requests_total")
}
