package ontology

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEntitiesByCategory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/entities", r.URL.Path)
		assert.Equal(t, "roles", r.URL.Query().Get("category"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entities": [
			{"uri": "http://proethica.org/ontology#Engineer", "label": "Engineer", "definition": "An engineer."},
			{"uri": "http://proethica.org/ontology#Client", "label": "Client", "definition": "A client."}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	entities, err := client.GetEntitiesByCategory(context.Background(), "roles")
	require.NoError(t, err)

	require.Len(t, entities, 2)
	assert.Equal(t, "Engineer", entities[0].Label)
	assert.Equal(t, "http://proethica.org/ontology#Client", entities[1].URI)
}

func TestGetEntitiesByCategoryEscapesCategory(t *testing.T) {
	t.Parallel()

	var gotCategory string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCategory = r.URL.Query().Get("category")
		w.Write([]byte(`{"entities": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.GetEntitiesByCategory(context.Background(), "a b&c")
	require.NoError(t, err)
	assert.Equal(t, "a b&c", gotCategory)
}

func TestGetEntitiesByCategoryServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "catalogue unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.GetEntitiesByCategory(context.Background(), "roles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "catalogue unavailable")
}

func TestGetEntitiesByCategoryMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.GetEntitiesByCategory(context.Background(), "roles")
	require.Error(t, err)
}

func TestGetEntitiesByCategoryEmptyList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"entities": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	entities, err := client.GetEntitiesByCategory(context.Background(), "capabilities")
	require.NoError(t, err)
	assert.Empty(t, entities)
}
