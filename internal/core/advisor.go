package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const advisorSystemInstruction = "You are a personal financial advisor. Answer using the financial report below. " +
	"Be specific, cite the user's actual numbers, and keep answers concise. " +
	"If the report does not contain the information needed, say so instead of guessing."

// finalizeTimeout bounds the fire-and-forget persistence write that
// runs after the client response has been sent.
const finalizeTimeout = 10 * time.Second

// RateLimiter is the external policy collaborator. A non-nil error
// means the check itself failed, which the orchestrator treats as deny.
type RateLimiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message  string     `json:"message"`
	ThreadID string     `json:"threadId,omitempty"`
	History  []ChatTurn `json:"history,omitempty"`
}

// AdvisorService orchestrates one advisor exchange: validate, rate
// limit, aggregate context, build the prompt, call the provider, then
// stream and finalize.
type AdvisorService struct {
	contexts *ContextBuilder
	threads  *Threads
	selector *ProviderSelector
	provider *ProviderClient
	limiter  RateLimiter
}

func NewAdvisorService(contexts *ContextBuilder, threads *Threads, selector *ProviderSelector, provider *ProviderClient, limiter RateLimiter) *AdvisorService {
	return &AdvisorService{
		contexts: contexts,
		threads:  threads,
		selector: selector,
		provider: provider,
		limiter:  limiter,
	}
}

// ChatSession is an accepted exchange whose upstream call has been
// opened but not yet drained. The thread id is known up front so the
// caller can send it in a response header before any body bytes.
type ChatSession struct {
	ThreadID string

	svc         *AdvisorService
	userID      int64
	userMessage string
	upstream    io.ReadCloser
}

// StartChat runs every pre-streaming state of the exchange. On success
// the provider response is open and ready to stream; on failure one of
// the sentinel errors in errors.go tells the transport layer what to
// answer. No thread is mutated here.
func (s *AdvisorService) StartChat(ctx context.Context, userID int64, req ChatRequest) (*ChatSession, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	allowed, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		// Fail closed: a broken limiter must not become an open gate.
		return nil, fmt.Errorf("%w: %v", ErrRateLimiterUnavailable, err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	// Context aggregation and history load are independent reads.
	var contextDoc string
	var history []PromptMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		contextDoc, err = s.contexts.Build(gctx, userID)
		return err
	})
	g.Go(func() error {
		if req.ThreadID != "" {
			// Persisted history is authoritative once a thread exists;
			// client-supplied history is ignored.
			loaded, err := s.threads.LoadHistory(gctx, userID, req.ThreadID)
			if err != nil {
				return err
			}
			history = loaded
			return nil
		}
		history = SanitizeHistory(chatTurnsToPrompt(req.History))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]PromptMessage, 0, len(history)+2)
	messages = append(messages, PromptMessage{Role: "system", Content: advisorSystemInstruction + "\n\n" + contextDoc})
	messages = append(messages, history...)
	messages = append(messages, PromptMessage{Role: "user", Content: message})

	handle, err := s.selector.Select(ctx, userID)
	if err != nil {
		return nil, err
	}

	upstream, err := s.provider.StreamChat(ctx, handle, messages)
	if err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = NewThreadID()
	}
	return &ChatSession{
		ThreadID:    threadID,
		svc:         s,
		userID:      userID,
		userMessage: message,
		upstream:    upstream,
	}, nil
}

// Stream transcodes the upstream response into out and, once the
// transcoder resolves, hands the full reply to the finalizer. The
// finalizer never blocks the response; its failures are logged, not
// surfaced, since the client already has its answer.
func (cs *ChatSession) Stream(out io.Writer) {
	defer cs.upstream.Close()

	transcoder := NewTranscoder()
	transcoder.Run(cs.upstream, out)

	go func() {
		<-transcoder.Done()
		cs.svc.finalize(cs.userID, cs.ThreadID, cs.userMessage, transcoder.Text())
	}()
}

func (s *AdvisorService) finalize(userID int64, threadID, userMsg, assistantMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := s.threads.AppendExchange(ctx, userID, threadID, userMsg, assistantMsg); err != nil {
		log.Printf("Failed to persist advisor exchange for thread %s: %v", threadID, err)
	}
}

func chatTurnsToPrompt(turns []ChatTurn) []PromptMessage {
	prompt := make([]PromptMessage, 0, len(turns))
	for _, turn := range turns {
		prompt = append(prompt, PromptMessage{Role: turn.Role, Content: turn.Content})
	}
	return prompt
}
