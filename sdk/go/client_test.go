package shiftbotsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsTokenAndQuery(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":3,"creator_id":"ou_a","assignee_id":"ou_b","text":"restock","status":"assigned"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	tasks, err := c.Tasks(context.Background(), "assigned", "ou_b")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(3), tasks[0].ID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/v0/tasks", gotPath)
	assert.Equal(t, "assignee_id=ou_b&status=assigned", gotQuery)
}

func TestClientEventsUnwrapsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/events", r.URL.Path)
		assert.Equal(t, "request", r.URL.Query().Get("entity_kind"))
		w.Write([]byte(`{"items":[{"id":9,"type":"request.created","entity_kind":"request","entity_id":"1","actor_id":"ou_a","payload":{"text":"x"}}]}`))
	}))
	defer srv.Close()

	events, err := New(srv.URL, "tok").Events(context.Background(), 5, "request", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "request.created", events[0].Type)
	assert.Equal(t, "x", events[0].Payload["text"])
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"forbidden","message":"no"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Stats(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "forbidden")
}
