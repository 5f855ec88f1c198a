package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTEIServer returns a test server mimicking the TEI /embed endpoint.
func newTEIServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var count int
		switch inputs := req.Inputs.(type) {
		case string:
			count = 1
		case []interface{}:
			count = len(inputs)
		default:
			t.Fatalf("unexpected inputs type %T", req.Inputs)
		}

		vectors := make([][]float32, count)
		for i := range vectors {
			vectors[i] = make([]float32, dim)
			vectors[i][0] = float32(i) + 1
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func TestTEIEmbedder_EmbedDocuments(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	e, err := NewTEIEmbedder(EmbedderConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	vectors, err := e.EmbedDocuments(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Len(t, vectors[0], 4)
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestTEIEmbedder_EmbedQuery(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	e, err := NewTEIEmbedder(EmbedderConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	vec, err := e.EmbedQuery(context.Background(), "what changed last week")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestTEIEmbedder_EmptyInput(t *testing.T) {
	e, err := NewTEIEmbedder(EmbedderConfig{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = e.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := NewTEIEmbedder(EmbedderConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestTEIEmbedder_VectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([][]float32{{1, 2}})
	}))
	defer srv.Close()

	e, err := NewTEIEmbedder(EmbedderConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}
