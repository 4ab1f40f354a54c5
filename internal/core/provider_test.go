package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"omfinance.app/advisor/internal/store"
)

type fakeAccounts struct {
	account *store.ProviderAccount
	err     error
}

func (f *fakeAccounts) ProviderAccount(context.Context, int64) (*store.ProviderAccount, error) {
	return f.account, f.err
}

func TestSelectPrefersConnectedAccount(t *testing.T) {
	selector := NewProviderSelector(&fakeAccounts{account: &store.ProviderAccount{
		Provider: "openrouter",
		BaseURL:  "https://openrouter.example/v1",
		APIKey:   "user-key",
		Model:    "some-model",
		Status:   "connected",
	}}, ProviderConfig{FallbackAPIKey: "service-key"})

	handle, err := selector.Select(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "openrouter", handle.Name)
	assert.Equal(t, "user-key", handle.APIKey)
}

func TestSelectFallsBackToServiceCredential(t *testing.T) {
	selector := NewProviderSelector(&fakeAccounts{}, ProviderConfig{
		FallbackAPIKey:  "service-key",
		FallbackBaseURL: "https://fallback.example/v1",
		FallbackModel:   "fallback-model",
	})

	handle, err := selector.Select(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "fallback", handle.Name)
	assert.Equal(t, "service-key", handle.APIKey)
	assert.Equal(t, "fallback-model", handle.Model)
}

func TestSelectNotConfigured(t *testing.T) {
	selector := NewProviderSelector(&fakeAccounts{}, ProviderConfig{})
	_, err := selector.Select(context.Background(), 1)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestStreamChatReturnsRawBody(t *testing.T) {
	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, frame("hello"), "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewProviderClient(ProviderConfig{Timeout: 5 * time.Second})
	body, err := client.StreamChat(context.Background(), ProviderHandle{
		Name: "test", BaseURL: srv.URL, APIKey: "k", Model: "m",
	}, []PromptMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":"hello"`)

	assert.True(t, gotReq.Stream)
	assert.Equal(t, "m", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
}

func TestStreamChatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewProviderClient(ProviderConfig{Timeout: 50 * time.Millisecond})
	_, err := client.StreamChat(context.Background(), ProviderHandle{
		Name: "slow", BaseURL: srv.URL, APIKey: "k", Model: "m",
	}, nil)
	assert.ErrorIs(t, err, ErrProviderTimeout)
}

func TestStreamChatNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := NewProviderClient(ProviderConfig{Timeout: time.Second})
	_, err := client.StreamChat(context.Background(), ProviderHandle{
		Name: "broke", BaseURL: srv.URL, APIKey: "k", Model: "m",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}
