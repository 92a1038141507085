package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "elastic/elasticsearch", "tok", time.Second)
}

func TestGetIssue(t *testing.T) {
	client := newTestServer(t, map[string]http.HandlerFunc{
		"/repos/elastic/elasticsearch/issues/12": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"number":12,"title":"NPE in bulk","state":"open","user":{"login":"dev"},"labels":[{"name":"bug"}]}`))
		},
	})

	issue, err := client.GetIssue(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "NPE in bulk", issue.Title)
	assert.Equal(t, "dev", issue.User.Login)
	require.Len(t, issue.Labels, 1)
}

func TestListPRFilesMissingPR(t *testing.T) {
	client := newTestServer(t, map[string]http.HandlerFunc{
		"/repos/elastic/elasticsearch/pulls/9/files": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
		"/repos/elastic/elasticsearch/pulls/10/files": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"filename":"server/src/main/java/A.java"},{"filename":"docs/b.md"}]`))
		},
	})

	files, err := client.ListPRFiles(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = client.ListPRFiles(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"server/src/main/java/A.java", "docs/b.md"}, files)
}

func TestListReviewCommentsMergesSources(t *testing.T) {
	client := newTestServer(t, map[string]http.HandlerFunc{
		"/repos/elastic/elasticsearch/pulls/5/comments": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"body":"use streams","user":{"login":"a"},"path":"A.java"}]`))
		},
		"/repos/elastic/elasticsearch/issues/5/comments": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"body":"use a for loop","user":{"login":"b"}}]`))
		},
	})

	comments, err := client.ListReviewComments(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "a", comments[0].User.Login)
	assert.Equal(t, "b", comments[1].User.Login)
}

func TestPostComment(t *testing.T) {
	var got map[string]string
	client := newTestServer(t, map[string]http.HandlerFunc{
		"/repos/elastic/elasticsearch/issues/7/comments": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		},
	})

	require.NoError(t, client.PostComment(context.Background(), 7, "hello"))
	assert.Equal(t, "hello", got["body"])
}

func TestStatusErrorSurfaced(t *testing.T) {
	client := newTestServer(t, map[string]http.HandlerFunc{
		"/repos/elastic/elasticsearch/issues/1": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusForbidden)
		},
	})

	_, err := client.GetIssue(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
