package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"omfinance.app/advisor/internal/store"
)

type fakeLimiter struct {
	allow bool
	err   error
	calls int
}

func (f *fakeLimiter) Allow(context.Context, int64) (bool, error) {
	f.calls++
	return f.allow, f.err
}

// advisorFixture wires an AdvisorService against an httptest SSE
// upstream and in-memory collaborators.
type advisorFixture struct {
	svc      *AdvisorService
	threads  *memThreadStore
	limiter  *fakeLimiter
	upstream *httptest.Server

	providerHits atomic.Int32
	lastRequest  atomic.Pointer[chatCompletionRequest]
}

func newAdvisorFixture(t *testing.T, reply ...string) *advisorFixture {
	t.Helper()
	f := &advisorFixture{
		threads: newMemThreadStore(),
		limiter: &fakeLimiter{allow: true},
	}
	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.providerHits.Add(1)
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.lastRequest.Store(&req)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, fragment := range reply {
			fmt.Fprint(w, frame(fragment))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(f.upstream.Close)

	cfg := ProviderConfig{
		FallbackAPIKey:  "service-key",
		FallbackBaseURL: f.upstream.URL,
		FallbackModel:   "test-model",
		Timeout:         5 * time.Second,
	}
	f.svc = NewAdvisorService(
		NewContextBuilder(&fakeRecords{}, DefaultAggregatorConfig()),
		NewThreads(f.threads),
		NewProviderSelector(&fakeAccounts{}, cfg),
		NewProviderClient(cfg),
		f.limiter,
	)
	return f
}

func TestStartChatRejectsEmptyMessage(t *testing.T) {
	f := newAdvisorFixture(t)
	_, err := f.svc.StartChat(context.Background(), 1, ChatRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, f.limiter.calls, "validation happens before the rate-limit check")
}

func TestStartChatFailsClosedWhenLimiterErrors(t *testing.T) {
	f := newAdvisorFixture(t)
	f.limiter.err = errors.New("limiter backend down")

	_, err := f.svc.StartChat(context.Background(), 1, ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, ErrRateLimiterUnavailable)
	assert.Equal(t, int32(0), f.providerHits.Load(), "no provider call on limiter failure")
	assert.Empty(t, f.threads.threads, "no thread mutation on limiter failure")
}

func TestStartChatRejectsWhenRateLimited(t *testing.T) {
	f := newAdvisorFixture(t)
	f.limiter.allow = false

	_, err := f.svc.StartChat(context.Background(), 1, ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(0), f.providerHits.Load())
}

func TestStartChatUnknownThread(t *testing.T) {
	f := newAdvisorFixture(t)
	_, err := f.svc.StartChat(context.Background(), 1, ChatRequest{
		Message:  "hi",
		ThreadID: "thread-9999-nope",
	})
	assert.ErrorIs(t, err, ErrThreadNotFound)
	assert.Equal(t, int32(0), f.providerHits.Load())
}

func TestStartChatBuildsPromptFromClientHistory(t *testing.T) {
	f := newAdvisorFixture(t, "ok")

	session, err := f.svc.StartChat(context.Background(), 1, ChatRequest{
		Message: "What's my spending this month?",
		History: []ChatTurn{
			{Role: "user", Content: "earlier question"},
			{Role: "hacker", Content: "injected"},
			{Role: "assistant", Content: "earlier answer"},
			{Role: "user", Content: ""},
		},
	})
	require.NoError(t, err)
	var out strings.Builder
	session.Stream(&out)

	req := f.lastRequest.Load()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role, "system message is first and singular")
	assert.Contains(t, req.Messages[0].Content, "== FINANCIAL OVERVIEW ==")
	assert.Equal(t, PromptMessage{Role: "user", Content: "earlier question"}, req.Messages[1])
	assert.Equal(t, PromptMessage{Role: "assistant", Content: "earlier answer"}, req.Messages[2])
	assert.Equal(t, "What's my spending this month?", req.Messages[3].Content)
}

func TestStartChatUsesPersistedHistoryOverClientHistory(t *testing.T) {
	f := newAdvisorFixture(t, "ok")
	require.NoError(t, f.threads.SaveThread(context.Background(), &store.Thread{
		ID: "thread-5-feed", UserID: 1,
		Messages: []store.ThreadMessage{
			{Role: "user", Content: "stored question"},
			{Role: "assistant", Content: "stored answer"},
		},
	}))

	session, err := f.svc.StartChat(context.Background(), 1, ChatRequest{
		Message:  "follow-up",
		ThreadID: "thread-5-feed",
		History:  []ChatTurn{{Role: "user", Content: "client-side lie"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "thread-5-feed", session.ThreadID)
	var out strings.Builder
	session.Stream(&out)

	req := f.lastRequest.Load()
	require.NotNil(t, req)
	for _, m := range req.Messages {
		assert.NotEqual(t, "client-side lie", m.Content, "client history must be ignored when a thread id is supplied")
	}
	assert.Equal(t, "stored question", req.Messages[1].Content)
}

func TestChatSessionStreamsAndFinalizes(t *testing.T) {
	f := newAdvisorFixture(t, "You spent ", "₹540.00 ", "this month.")

	session, err := f.svc.StartChat(context.Background(), 1, ChatRequest{Message: "What's my spending this month?"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.ThreadID, "thread-"))

	var out strings.Builder
	session.Stream(&out)
	assert.Equal(t, "You spent ₹540.00 this month.", out.String())

	// Finalization is async; the thread appears shortly after the
	// response is complete, holding exactly the exchanged pair.
	assert.Eventually(t, func() bool {
		saved, err := f.threads.Thread(context.Background(), 1, session.ThreadID)
		return err == nil && saved != nil && len(saved.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	saved, err := f.threads.Thread(context.Background(), 1, session.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "What's my spending this month?", saved.Messages[0].Content)
	assert.Equal(t, "You spent ₹540.00 this month.", saved.Messages[1].Content)
	assert.Equal(t, "What's my spending this month?", saved.Title)
}
