package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cafe-cli/internal/resilience"
)

// newTestClient creates a client pointing at a local test server.
func newTestClient(baseURL string) Client {
	return NewClient("test-key", WithBaseURL(baseURL))
}

func writeMessage(w http.ResponseWriter, id, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":   id,
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     0,
		},
	})
}

func writeAPIError(w http.ResponseWriter, status int, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"type": "error",
		"error": map[string]any{
			"type":    typ,
			"message": "upstream said no",
		},
	})
}

var testRequest = MessageRequest{
	Model:     "claude-haiku-4-5-20251001",
	MaxTokens: 1024,
	Messages:  []Message{{Role: "user", Content: "Hello"}},
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		writeMessage(w, "msg_test_001", "Hello from test")
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "Hello from test", resp.Text())
	assert.Equal(t, int64(10), resp.Usage.Input)
	assert.Equal(t, int64(5), resp.Usage.Output)
}

func TestSDKClient_CreateMessage_WithSystemAndTemp(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeMessage(w, "msg_sys", "ok")
	}))
	defer ts.Close()

	temp := 0.0
	req := testRequest
	req.System = "You rate cafes"
	req.SystemCacheTTL = "1h"
	req.Temperature = &temp

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), req)
	require.NoError(t, err)
	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	block := system[0].(map[string]any)
	assert.Equal(t, "You rate cafes", block["text"])
	cc, ok := block["cache_control"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1h", cc["ttl"])
}

func TestSDKClient_CreateMessage_RateLimitedIsTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, resilience.StatusOverloaded} {
		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			writeAPIError(w, status, "rate_limit_error")
		}))

		_, err := newTestClient(ts.URL).CreateMessage(context.Background(), testRequest)
		ts.Close()

		require.Error(t, err)
		assert.True(t, resilience.IsRateLimited(err), "status %d", status)
		assert.True(t, resilience.IsRetryableUpstream(err), "status %d", status)
		// SDK retries are disabled.
		assert.Equal(t, int32(1), calls.Load())
	}
}

func TestSDKClient_CreateMessage_ServerErrorIsTerminal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusInternalServerError, "api_error")
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), testRequest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.False(t, resilience.IsRetryableUpstream(err))
}

func TestSDKClient_CreateMessage_ConnectionFailureIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(url).CreateMessage(context.Background(), testRequest)
	require.Error(t, err)
	assert.True(t, resilience.IsRetryableUpstream(err))
	assert.False(t, resilience.IsRateLimited(err))
}

func TestSDKClient_CreateMessage_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, "msg", "late")
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(ts.URL).CreateMessage(ctx, testRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resilience.IsRetryableUpstream(err))
}
