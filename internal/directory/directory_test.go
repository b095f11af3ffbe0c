package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadechat/internal/identity"
	"arcadechat/internal/transport"
)

type fakeTitles map[string]string

func (f fakeTitles) ThreadTitle(id string) (string, bool) {
	title, ok := f[id]
	return title, ok
}

func newTestDirectory(t *testing.T, handler http.Handler, titles Titler) *Directory {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ident := identity.New(nil)
	ident.Restore("u123", "tok")

	return New(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Identity:   ident,
		Titles:     titles,
	})
}

func TestListSortsByUpdatedAtDescending(t *testing.T) {
	// Server returns sessions oldest-first; the client must not trust that.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions", r.URL.Path)
		assert.Equal(t, "u123", r.URL.Query().Get("userId"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{"_id": "old", "lastMessageAt": "2026-08-01T10:00:00Z", "messageCount": 2},
				{"_id": "new", "lastMessageAt": "2026-08-20T10:00:00Z", "messageCount": 5},
			},
		})
	})

	dir := newTestDirectory(t, handler, nil)
	threads, err := dir.List(context.Background(), 1, 20)
	require.NoError(t, err)

	require.Len(t, threads, 2)
	assert.Equal(t, "new", threads[0].ID)
	assert.Equal(t, "old", threads[1].ID)
	assert.Equal(t, 5, threads[0].MessageCount)
}

func TestListTimestampFallbackChain(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{
					"_id":             "all-fields",
					"lastMessageAt":   "2026-08-20T10:00:00Z",
					"updatedAt":       "2026-08-10T10:00:00Z",
					"session_started": "2026-08-01T10:00:00Z",
				},
				{
					"_id":             "no-last-message",
					"updatedAt":       "2026-08-12T10:00:00Z",
					"session_started": "2026-08-01T10:00:00Z",
				},
				{
					"_id":             "started-only",
					"session_started": "2026-08-05T10:00:00Z",
				},
			},
		})
	})

	dir := newTestDirectory(t, handler, nil)
	threads, err := dir.List(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, threads, 3)

	byID := map[string]time.Time{}
	for _, th := range threads {
		byID[th.ID] = th.UpdatedAt
	}
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), byID["all-fields"].UTC())
	assert.Equal(t, time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC), byID["no-last-message"].UTC())
	assert.Equal(t, time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC), byID["started-only"].UTC())
}

func TestListUsesCachedTitlesWithDerivedFallback(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{"_id": "named", "createdAt": "2026-08-01T10:00:00Z"},
				{"_id": "anon", "createdAt": "2026-08-02T10:00:00Z"},
			},
		})
	})

	dir := newTestDirectory(t, handler, fakeTitles{"named": "My bug report"})
	threads, err := dir.List(context.Background(), 1, 20)
	require.NoError(t, err)

	titles := map[string]string{}
	for _, th := range threads {
		titles[th.ID] = th.Title
	}
	assert.Equal(t, "My bug report", titles["named"])
	assert.Equal(t, "Chat Aug 2, 2026", titles["anon"])
}

func TestGetOrCreateDefault(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/session", r.URL.Path)
		assert.Equal(t, "u123", r.URL.Query().Get("userId"))
		json.NewEncoder(w).Encode(map[string]any{
			"_id":       "s1",
			"createdAt": "2026-08-01T10:00:00Z",
		})
	})

	dir := newTestDirectory(t, handler, nil)
	thread, err := dir.GetOrCreateDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", thread.ID)
}

func TestEndSwallowsServerFailure(t *testing.T) {
	var called bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/chat/sessions/s1/end", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	})

	dir := newTestDirectory(t, handler, nil)
	dir.End(context.Background(), "s1") // must not panic or propagate
	assert.True(t, called)
}

func TestDeletePropagatesFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusForbidden)
	})

	dir := newTestDirectory(t, handler, nil)
	err := dir.Delete(context.Background(), "s1")

	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestDeleteSucceeds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/s1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	dir := newTestDirectory(t, handler, nil)
	assert.NoError(t, dir.Delete(context.Background(), "s1"))
}

func TestLoadHistoryMapsSenders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/s1/messages", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]map[string]any{
			{"sender": "user", "message": "hi"},
			{"sender": "chatbot", "message": "hello"},
			{"sender": "assistant", "message": "also bot"},
		})
	})

	dir := newTestDirectory(t, handler, nil)
	messages, err := dir.LoadHistory(context.Background(), "s1", 50)
	require.NoError(t, err)

	require.Len(t, messages, 3)
	assert.Equal(t, "user", string(messages[0].Sender))
	assert.Equal(t, "chatbot", string(messages[1].Sender))
	assert.Equal(t, "chatbot", string(messages[2].Sender))
	assert.Equal(t, "hi", messages[0].Text)
}

func TestLoadHistoryNotFoundMeansEmptySession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	dir := newTestDirectory(t, handler, nil)
	for i := 0; i < 3; i++ { // deterministic on every retry
		messages, err := dir.LoadHistory(context.Background(), "missing", 50)
		require.NoError(t, err)
		assert.Nil(t, messages)
	}
}

func TestLoadHistoryOtherFailuresPropagate(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	dir := newTestDirectory(t, handler, nil)
	_, err := dir.LoadHistory(context.Background(), "s1", 50)

	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestParseTimeToleratesUnixMillis(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	got := parseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	assert.Equal(t, ts.UnixMilli(), got.UnixMilli())
}

func TestParseTimeUnparseableYieldsZero(t *testing.T) {
	assert.True(t, parseTime("last tuesday").IsZero())
	assert.True(t, parseTime("").IsZero())
}
