package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/model"
	"streamchat/internal/reconcile"
	"streamchat/internal/transport/http/handler"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]interface{}{"code": 0, "message": "success", "data": data}
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/chat/sessions", r.URL.Path)
		require.Equal(t, "alice", r.Header.Get(handler.UserIDHeader))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "helper", body["agent_id"])
		assert.Equal(t, "New Chat", body["title"])

		writeEnvelope(t, w, model.Session{ID: "s1", UserID: "alice", AgentID: "helper"})
	}))
	defer srv.Close()

	cli := New(srv.URL, "alice")
	sessionID, err := cli.CreateSession(context.Background(), "alice", "helper", "New Chat")
	require.NoError(t, err)
	assert.Equal(t, "s1", sessionID)
}

func TestGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 40401, "message": "session not found",
		})
	}))
	defer srv.Close()

	cli := New(srv.URL, "alice")
	_, err := cli.History(context.Background(), "alice", "missing", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSendCarriesClientRef(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(t, w, nil)
	}))
	defer srv.Close()

	cli := New(srv.URL, "alice")
	require.NoError(t, cli.Send(context.Background(), "alice", "s1", "hello", "ref-1"))
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, "ref-1", got["client_ref"])
}

func TestPreferenceRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeEnvelope(t, w, map[string]string{"agent_id": "critic"})
		case http.MethodPut:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "critic", body["agent_id"])
			writeEnvelope(t, w, nil)
		}
	}))
	defer srv.Close()

	cli := New(srv.URL, "alice")
	require.NoError(t, cli.SetLastAgent(context.Background(), "alice", "critic"))

	last, err := cli.LastAgent(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "critic", last)
}

func TestSubscribeDeliversEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "s1", r.URL.Query().Get("session_id"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		frag, _ := json.Marshal(reconcile.Event{
			ID: "m1", SessionID: "s1", Role: model.RoleAgent, Text: "Hel", Partial: true,
		})
		final, _ := json.Marshal(reconcile.Event{
			ID: "m1", SessionID: "s1", Role: model.RoleAgent, Text: "Hello",
		})
		for _, payload := range [][]byte{frag, final} {
			w.Write([]byte("event: message\ndata: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte("event: done\ndata: \n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	cli := New(srv.URL, "alice")
	sub, err := cli.Subscribe("s1")
	require.NoError(t, err)
	defer sub.Cancel()

	first := recvEvent(t, sub.Events())
	assert.Equal(t, "Hel", first.Text)
	assert.True(t, first.Partial)

	second := recvEvent(t, sub.Events())
	assert.Equal(t, "Hello", second.Text)
	assert.False(t, second.Partial)

	assertStreamClosed(t, sub.Events())
	assert.NoError(t, sub.Err())
}

func TestSubscribeSurfacesStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: error\ndata: model unavailable\n\n"))
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	cli := New(srv.URL, "alice")
	sub, err := cli.Subscribe("s1")
	require.NoError(t, err)
	defer sub.Cancel()

	assertStreamClosed(t, sub.Events())
	require.Error(t, sub.Err())
	assert.Contains(t, sub.Err().Error(), "model unavailable")
}

func recvEvent(t *testing.T, ch <-chan reconcile.Event) reconcile.Event {
	t.Helper()
	select {
	case ev, open := <-ch:
		require.True(t, open, "stream closed early")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return reconcile.Event{}
	}
}

func assertStreamClosed(t *testing.T, ch <-chan reconcile.Event) {
	t.Helper()
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for stream close")
		}
	}
}
