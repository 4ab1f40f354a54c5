package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"omfinance.app/advisor/internal/store"
)

const (
	// Turns of persisted or client-supplied history sent upstream.
	historyWindow = 20

	titleMaxRunes = 50
)

// ThreadStore is the document-store contract for conversations. Thread
// returns nil when the document does not exist; SaveThread upserts.
type ThreadStore interface {
	Thread(ctx context.Context, userID int64, threadID string) (*store.Thread, error)
	SaveThread(ctx context.Context, t *store.Thread) error
}

// Threads loads and appends capped conversation histories.
type Threads struct {
	store ThreadStore
}

func NewThreads(ts ThreadStore) *Threads {
	return &Threads{store: ts}
}

// NewThreadID mints a thread identifier for a lazily created thread.
func NewThreadID() string {
	return fmt.Sprintf("thread-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// LoadHistory returns the last valid turns of a thread, sanitized for
// the prompt list. ErrThreadNotFound when the thread does not exist.
func (t *Threads) LoadHistory(ctx context.Context, userID int64, threadID string) ([]PromptMessage, error) {
	thread, err := t.store.Thread(ctx, userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	turns := make([]PromptMessage, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		turns = append(turns, PromptMessage{Role: m.Role, Content: m.Content})
	}
	return SanitizeHistory(turns), nil
}

// SanitizeHistory drops entries with empty content or a role outside
// {user, assistant}, preserves the order of the rest, and keeps only
// the most recent window.
func SanitizeHistory(turns []PromptMessage) []PromptMessage {
	valid := make([]PromptMessage, 0, len(turns))
	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}
		if turn.Role != "user" && turn.Role != "assistant" {
			continue
		}
		valid = append(valid, turn)
	}
	if len(valid) > historyWindow {
		valid = valid[len(valid)-historyWindow:]
	}
	return valid
}

// AppendExchange appends one completed user/assistant pair to a thread,
// creating the thread when it does not exist yet. The title of a new
// thread derives from its first user message.
//
// This is a read-modify-write with no lock: two overlapping requests on
// the same thread can interleave their appends. Accepted, since chat
// turns for one user are effectively serial in practice.
func (t *Threads) AppendExchange(ctx context.Context, userID int64, threadID, userMsg, assistantMsg string) error {
	thread, err := t.store.Thread(ctx, userID, threadID)
	if err != nil {
		return fmt.Errorf("failed to load thread %s for append: %w", threadID, err)
	}
	now := time.Now()
	if thread == nil {
		thread = &store.Thread{
			ID:        threadID,
			UserID:    userID,
			Title:     deriveTitle(userMsg),
			CreatedAt: now,
		}
	}
	thread.Messages = append(thread.Messages,
		store.ThreadMessage{Role: "user", Content: userMsg, Timestamp: now},
		store.ThreadMessage{Role: "assistant", Content: assistantMsg, Timestamp: now},
	)
	thread.UpdatedAt = now
	if err := t.store.SaveThread(ctx, thread); err != nil {
		return fmt.Errorf("failed to save thread %s: %w", threadID, err)
	}
	return nil
}

func deriveTitle(firstUserMessage string) string {
	title := strings.TrimSpace(firstUserMessage)
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "…"
	}
	return title
}
