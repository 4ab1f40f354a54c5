package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestThreadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.Thread(ctx, 1, "thread-1-none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now().Truncate(time.Second)
	thread := &Thread{
		ID:     "thread-1-abcd",
		UserID: 1,
		Title:  "What's my spending?",
		Messages: []ThreadMessage{
			{Role: "user", Content: "What's my spending?", Timestamp: now},
			{Role: "assistant", Content: "₹540.00 this month.", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.SaveThread(ctx, thread))

	loaded, err := s.Thread(ctx, 1, "thread-1-abcd")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, thread.Title, loaded.Title)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "₹540.00 this month.", loaded.Messages[1].Content)

	// Upsert with more messages replaces the document.
	thread.Messages = append(thread.Messages,
		ThreadMessage{Role: "user", Content: "and last month?", Timestamp: now},
		ThreadMessage{Role: "assistant", Content: "₹1,200.00.", Timestamp: now},
	)
	thread.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.SaveThread(ctx, thread))

	loaded, err = s.Thread(ctx, 1, "thread-1-abcd")
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 4)

	// Threads are scoped per user.
	other, err := s.Thread(ctx, 2, "thread-1-abcd")
	require.NoError(t, err)
	assert.Nil(t, other)

	threads, err := s.ListThreads(ctx, 1)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Empty(t, threads[0].Messages, "list omits message bodies")
}

func TestProviderAccountLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	none, err := s.ProviderAccount(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.SaveProviderAccount(ctx, &ProviderAccount{
		UserID: 1, Provider: "openrouter", BaseURL: "https://example/v1",
		APIKey: "k", Model: "m", Status: "connected",
	}))

	account, err := s.ProviderAccount(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "openrouter", account.Provider)

	// A revoked binding is no longer live.
	require.NoError(t, s.SaveProviderAccount(ctx, &ProviderAccount{
		UserID: 1, Provider: "openrouter", BaseURL: "https://example/v1",
		APIKey: "k", Model: "m", Status: "revoked",
	}))
	account, err = s.ProviderAccount(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestTransactionsCapAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddTransaction(ctx, &Transaction{
			UserID:      1,
			Date:        base.AddDate(0, 0, i),
			Description: "txn",
			Amount:      decimal.NewFromInt(int64(100 + i)),
			Type:        "debit",
		}))
	}

	txns, err := s.Transactions(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.True(t, txns[0].Date.After(txns[1].Date), "most recent first")
	assert.Equal(t, "104", txns[0].Amount.String())

	othersTxns, err := s.Transactions(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, othersTxns)
}

func TestNWIConfigSingleDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.NWIConfig(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, s.SetNWIConfig(ctx, &NWIConfig{UserID: 1, NeedsPct: 60, WantsPct: 20, InvestPct: 20}))
	require.NoError(t, s.SetNWIConfig(ctx, &NWIConfig{UserID: 1, NeedsPct: 50, WantsPct: 30, InvestPct: 20}))

	cfg, err = s.NWIConfig(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 50, cfg.NeedsPct, "second write replaced the document")
}
