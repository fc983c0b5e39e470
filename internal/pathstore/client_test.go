package pathstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutNode(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody NodeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	err := c.PutNode(context.Background(), "docprompt/documents/d1/meta", NodeRequest{Value: "v", MemoryType: "metacognitive"})
	require.NoError(t, err)
	assert.Equal(t, "/kv/docprompt/documents/d1/meta", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "metacognitive", gotBody.MemoryType)
}

func TestPutNode_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k").PutNode(context.Background(), "a", NodeRequest{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "a", se.Key)
	assert.True(t, se.Temporary())
	assert.Contains(t, err.Error(), "overloaded")
}

func TestGetNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/kv/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"key_path":"docprompt/x","value":{"prompts":3}}`)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	node, err := c.GetNode(context.Background(), "docprompt/x")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "docprompt/x", node.Key)
	assert.Equal(t, float64(3), node.Value.(map[string]any)["prompts"])

	node, err = c.GetNode(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestListChildren(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = io.WriteString(w, `{"nodes":[{"key_path":"docprompt/documents/a/meta","value":{}},{"key_path":"docprompt/documents/b/meta","value":{}}]}`)
	}))
	defer srv.Close()

	nodes, err := NewClient(srv.URL, "k").ListChildren(context.Background(), "docprompt/documents", 50)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "docprompt/documents/b/meta", nodes[1].Key)
	assert.Equal(t, "/kv/docprompt/documents/*", gotPath)
	assert.Equal(t, "limit=50", gotQuery)
}

func TestDeleteNode(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotQuery = r.Method, r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "k").DeleteNode(context.Background(), "docprompt/documents/a", true))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "children=true", gotQuery)
}

func TestPutLink(t *testing.T) {
	var got LinkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/links", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k").PutLink(context.Background(), LinkRequest{From: "a", To: "b", Weight: 1, Summary: "next"})
	require.NoError(t, err)
	assert.Equal(t, "a", got.From)
	assert.Equal(t, "next", got.Summary)
}

func TestStatusError_Temporary(t *testing.T) {
	for code, want := range map[int]bool{400: false, 404: false, 429: true, 500: true, 503: true} {
		assert.Equal(t, want, (&StatusError{StatusCode: code}).Temporary(), "status %d", code)
	}
}
