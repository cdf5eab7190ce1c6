package trigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_SendPostsPayload(t *testing.T) {
	var received Payload
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, time.Second, 0)
	err := webhook.Send(context.Background(), "trg-1", []map[string]any{{"recordId": "rec1"}})

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "trg-1", received.TriggerID)
	items, ok := received.Items.([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "rec1", items[0].(map[string]any)["recordId"])
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, time.Second, 2)
	webhook.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	require.NoError(t, webhook.Send(context.Background(), "trg-1", []any{}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, time.Second, 3)
	err := webhook.Send(context.Background(), "trg-1", []any{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhook_SendAsyncSurvivesCancelledContext(t *testing.T) {
	delivered := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		delivered <- p.TriggerID
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	webhook := NewWebhook(server.URL, time.Second, 0)
	webhook.SendAsync(ctx, "trg-async", []any{})
	cancel()
	webhook.Wait()

	select {
	case id := <-delivered:
		assert.Equal(t, "trg-async", id)
	default:
		t.Fatal("batch was not delivered")
	}
}

func TestWebhook_SendAsyncLogsFailures(t *testing.T) {
	webhook := NewWebhook("http://127.0.0.1:1/unreachable", 200*time.Millisecond, 0)
	webhook.SendAsync(context.Background(), "trg-1", []any{})
	webhook.Wait()
}
