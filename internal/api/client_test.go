package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberwatch/ember/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second})
}

func TestFetchCaseUnwrapsEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/case/c1", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"guid": "c1", "name": "intrusion", "utc_display": true},
		})
	}))

	meta, err := client.FetchCase(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", meta.GUID)
	require.Equal(t, "intrusion", meta.Name)
	require.True(t, meta.UTCDisplay)
}

func TestFetchEvents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/case/c1/events", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"guid": "a", "title": "first", "category": "INFO", "date": "2024-03-01T09:00:00Z"},
				{"guid": "b", "title": "second", "category": "TASK", "date": "2024-03-02T09:00:00Z"},
			},
			"count": 2,
		})
	}))

	events, err := client.FetchEvents(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "first", events[0].Title)
	require.Equal(t, models.CategoryTask, events[1].Category)
}

func TestCreateEventPostsAndUnwraps(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/case/c1/event", r.URL.Path)
		var got models.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "note", got.Title)
		json.NewEncoder(w).Encode(map[string]any{"data": got})
	}))

	created, err := client.CreateEvent(context.Background(), "c1", models.Event{GUID: "e1", Title: "note", Category: "INFO", Date: time.Now()})
	require.NoError(t, err)
	require.Equal(t, "e1", created.GUID)
}

func TestErrorStatusSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such case", http.StatusNotFound)
	}))

	_, err := client.FetchCase(context.Background(), "nope")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestUpdateCaseSendsPatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var patch map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		// Only the closed field travels; absent fields stay absent.
		require.Contains(t, patch, "closed")
		require.NotContains(t, patch, "name")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"guid": "c1", "closed": patch["closed"]},
		})
	}))

	closed := "2024-02-01T00:00:00Z"
	meta, err := client.UpdateCase(context.Background(), "c1", models.CasePatch{Closed: &closed})
	require.NoError(t, err)
	require.True(t, meta.IsClosed())
}

func TestSubscribeReturnsRawStream(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/case/c1/subscribe", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {\"source\":\"subscribe\",\"category\":\"case\"}\n\n"))
	}))

	body, err := client.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	defer body.Close()

	line, err := bufio.NewReader(body).ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "data:")
}

func TestSubscribeErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.Subscribe(context.Background(), "c1")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestExportQueryParameters(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/case/c1/events/export", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("starred"))
		require.Equal(t, []string{"title", "creator"}, r.URL.Query()["fields"])
		w.Write([]byte("# export"))
	}))

	body, err := client.Export(context.Background(), "c1", true, []string{"title", "creator"})
	require.NoError(t, err)
	require.Equal(t, "# export", string(body))
}
