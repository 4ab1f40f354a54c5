package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"omfinance.app/advisor/internal/store"
)

// PromptMessage is one entry of the list sent to a provider.
type PromptMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ProviderHandle identifies which upstream to call and with what
// credentials. Building a handle never opens a connection.
type ProviderHandle struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// AccountLookup reports a user's live provider binding, nil when none.
type AccountLookup interface {
	ProviderAccount(ctx context.Context, userID int64) (*store.ProviderAccount, error)
}

type ProviderConfig struct {
	FallbackAPIKey  string
	FallbackBaseURL string
	FallbackModel   string
	Timeout         time.Duration
}

// ProviderSelector decides per request which upstream to call: the
// user's connected account when one is live, otherwise the configured
// fallback service credential.
type ProviderSelector struct {
	accounts AccountLookup
	cfg      ProviderConfig
}

func NewProviderSelector(accounts AccountLookup, cfg ProviderConfig) *ProviderSelector {
	return &ProviderSelector{accounts: accounts, cfg: cfg}
}

func (s *ProviderSelector) Select(ctx context.Context, userID int64) (ProviderHandle, error) {
	account, err := s.accounts.ProviderAccount(ctx, userID)
	if err != nil {
		return ProviderHandle{}, fmt.Errorf("failed to look up provider account: %w", err)
	}
	if account != nil {
		return ProviderHandle{
			Name:    account.Provider,
			BaseURL: account.BaseURL,
			APIKey:  account.APIKey,
			Model:   account.Model,
		}, nil
	}
	if s.cfg.FallbackAPIKey != "" {
		return ProviderHandle{
			Name:    "fallback",
			BaseURL: s.cfg.FallbackBaseURL,
			APIKey:  s.cfg.FallbackAPIKey,
			Model:   s.cfg.FallbackModel,
		}, nil
	}
	return ProviderHandle{}, ErrProviderNotConfigured
}

type chatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []PromptMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ProviderClient performs the streaming chat-completions call. The
// response body is handed back raw so the transcoder owns every byte.
type ProviderClient struct {
	http *resty.Client
}

func NewProviderClient(cfg ProviderConfig) *ProviderClient {
	client := resty.New().
		SetDoNotParseResponse(true).
		SetTransport(&http.Transport{
			// Bound the wait for the provider to start answering; the
			// stream itself may then run as long as it needs.
			ResponseHeaderTimeout: cfg.Timeout,
		})
	return &ProviderClient{http: client}
}

// StreamChat opens the provider call and returns its chunked body. The
// caller must drain and close it.
func (c *ProviderClient) StreamChat(ctx context.Context, h ProviderHandle, messages []PromptMessage) (io.ReadCloser, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+h.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(chatCompletionRequest{Model: h.Model, Messages: messages, Stream: true}).
		Post(h.BaseURL + "/chat/completions")
	if err != nil {
		if isTimeout(err) {
			return nil, ErrProviderTimeout
		}
		return nil, fmt.Errorf("provider %s call failed: %w", h.Name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.RawBody(), 512))
		resp.RawBody().Close()
		return nil, fmt.Errorf("provider %s returned status %d: %s", h.Name, resp.StatusCode(), string(body))
	}
	return resp.RawBody(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
