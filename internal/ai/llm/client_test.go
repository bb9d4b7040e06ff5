package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	return NewClient(&ClientConfig{
		Provider:       ProviderGroq,
		BaseURL:        url,
		APIKey:         "test-key",
		Model:          "test-model",
		MaxTokens:      800,
		Temperature:    0.2,
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}, zerolog.Nop())
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestCompleteRetriesOnTooManyRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)

		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(w, `{"decision":"BUY"}`)
	}))
	defer srv.Close()

	out, err := testClient(srv.URL).Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"BUY"}`, out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCompleteRateLimitExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "system", "user")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "first attempt plus two retries")
}

func TestCompleteDoesNotRetryServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 500")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "system", "user")
	assert.EqualError(t, err, "empty response from LLM")
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, testClient("http://localhost").IsConfigured())
	assert.False(t, NewClient(nil, zerolog.Nop()).IsConfigured())
	assert.Equal(t, ProviderGroq, NewClient(nil, zerolog.Nop()).GetProvider())
}
