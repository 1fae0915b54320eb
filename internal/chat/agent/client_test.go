package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlink/bridge-server-go/internal/chat"
)

func collectEvents(t *testing.T, events <-chan chat.Event, n int) []chat.Event {
	t.Helper()
	var out []chat.Event
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("received %d of %d events", len(out), n)
		}
	}
	return out
}

func TestInitializeStreamsAndTranslatesEvents(t *testing.T) {
	var initBody map[string]bool

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/user-1/initialize", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&initBody))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sessions/user-1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		frames := []string{
			"event: pairing_code\ndata: {\"code\":\"ABCD-1234\"}\n\n",
			": heartbeat\n\n",
			"event: authenticated\ndata: {}\n\n",
			"event: ready\ndata: {\"accountId\":\"acct-1\",\"displayName\":\"Alice\"}\n\n",
			"event: message\ndata: {\"id\":\"prov-in-1\",\"from\":\"+15550002222\",\"fromName\":\"Bob\",\"text\":\"hi\"}\n\n",
			"event: disconnected\ndata: {\"reason\":\"device offline\"}\n\n",
		}
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	factory := NewFactory(server.URL)
	client, err := factory("user-1", true)
	require.NoError(t, err)

	require.NoError(t, client.Initialize(context.Background()))
	assert.True(t, initBody["resume"])

	events := collectEvents(t, client.Events(), 5)

	assert.Equal(t, chat.EventPairingCode, events[0].Kind)
	assert.Equal(t, "ABCD-1234", events[0].Code)

	assert.Equal(t, chat.EventAuthenticated, events[1].Kind)
	assert.Equal(t, chat.EventReady, events[2].Kind)

	identity, ok := client.Identity()
	require.True(t, ok)
	assert.Equal(t, "acct-1", identity.AccountID)
	assert.Equal(t, "Alice", identity.DisplayName)

	require.NotNil(t, events[3].Message)
	assert.Equal(t, chat.EventMessage, events[3].Kind)
	assert.Equal(t, "+15550002222", events[3].Message.FromAddress)
	assert.Equal(t, "hi", events[3].Message.Text)
	assert.False(t, events[3].Message.ReceivedAt.IsZero())

	assert.Equal(t, chat.EventDisconnected, events[4].Kind)
	assert.Equal(t, "device offline", events[4].Reason)

	// Server handler returned, so the stream ends and the channel closes.
	select {
	case _, ok := <-client.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never closed")
	}
}

func TestInitializeFailsOnAgentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such device", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	factory := NewFactory(server.URL)
	client, err := factory("user-1", false)
	require.NoError(t, err)

	err = client.Initialize(context.Background())
	require.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/user-1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+15550001111", req.Target)
		assert.Equal(t, "hello", req.Text)
		json.NewEncoder(w).Encode(sendResponse{MessageID: "prov-1"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	factory := NewFactory(server.URL)
	client, err := factory("user-1", false)
	require.NoError(t, err)

	receipt, err := client.SendMessage(context.Background(), "+15550001111", "hello")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", receipt.ProviderMessageID)
	assert.Equal(t, "sent", receipt.Status)
}

func TestSendMessageAgentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session gone", http.StatusBadGateway)
	}))
	defer server.Close()

	factory := NewFactory(server.URL)
	client, err := factory("user-1", false)
	require.NoError(t, err)

	_, err = client.SendMessage(context.Background(), "+15550001111", "hello")
	require.Error(t, err)
}

func TestDestroyIsIdempotent(t *testing.T) {
	var destroys atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/user-1/destroy", func(w http.ResponseWriter, r *http.Request) {
		destroys.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	factory := NewFactory(server.URL)
	client, err := factory("user-1", false)
	require.NoError(t, err)

	require.NoError(t, client.Destroy())
	require.NoError(t, client.Destroy())
	assert.Equal(t, int64(1), destroys.Load())
}
