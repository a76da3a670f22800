package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railway-accident-analytics/config"
	"railway-accident-analytics/logging"
)

func newTestAssistant(t *testing.T, url string) *Assistant {
	t.Helper()
	a, err := NewAssistant(config.AssistantConfig{
		APIURL:    url,
		APIKey:    "test-key",
		Model:     "llama3-8b-8192",
		MaxTokens: 750,
		CacheSize: 8,
	}, logging.Discard())
	require.NoError(t, err)
	return a
}

func TestAssistantAsk(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3-8b-8192", req.Model)
		assert.Equal(t, 750, req.MaxTokens)
		if assert.Len(t, req.Messages, 1) {
			assert.True(t, strings.HasPrefix(req.Messages[0].Content, "Worst accident in 1981. "))
			assert.Contains(t, req.Messages[0].Content, "1902 to 2024")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"The Bihar derailment."}}]}`))
	}))
	defer srv.Close()

	a := newTestAssistant(t, srv.URL)
	answer, err := a.Ask(context.Background(), "Worst accident in 1981")
	require.NoError(t, err)
	assert.Equal(t, "The Bihar derailment.", answer)

	again, err := a.Ask(context.Background(), "  Worst accident in 1981 ")
	require.NoError(t, err)
	assert.Equal(t, answer, again)
	assert.EqualValues(t, 1, calls.Load(), "second ask should hit the cache")
}

func TestAssistantAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key"}}`))
	}))
	defer srv.Close()

	_, err := newTestAssistant(t, srv.URL).Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssistantUnavailable))
	assert.Contains(t, err.Error(), "Invalid API Key")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", " ok ", 10, "ok"},
		{"ascii cut", "abcdef", 3, "abc..."},
		{"cut inside rune", "ab€cd", 3, "ab..."},
		{"cut after rune", "ab€cd", 5, "ab€..."},
		{"invalid bytes replaced", "a\xffb", 10, "a\uFFFDb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate([]byte(tt.in), tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestAssistantErrorBodyStaysValidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("x" + strings.Repeat("é", 400)))
	}))
	defer srv.Close()

	_, err := newTestAssistant(t, srv.URL).Ask(context.Background(), "hello")
	require.ErrorIs(t, err, ErrAssistantUnavailable)
	assert.True(t, utf8.ValidString(err.Error()))
}

func TestAssistantTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestAssistant(t, url).Ask(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrAssistantUnavailable)
}

func TestAssistantBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	a := newTestAssistant(t, srv.URL)
	for i := 0; i < 8; i++ {
		_, err := a.Ask(context.Background(), "q"+strings.Repeat("x", i))
		assert.ErrorIs(t, err, ErrAssistantUnavailable)
	}
	assert.EqualValues(t, 5, calls.Load())
}

func TestAssistantEmptyQuery(t *testing.T) {
	_, err := newTestAssistant(t, "http://127.0.0.1:1").Ask(context.Background(), "   ")
	assert.Error(t, err)
}
