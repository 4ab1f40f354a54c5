package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// Thread is a persisted conversation document. Messages are stored
// embedded in the document, not as separate rows.
type Thread struct {
	ID        string          `json:"id"` // "thread-<millis>-<random>"
	UserID    int64           `json:"user_id"`
	Title     string          `json:"title"`
	Messages  []ThreadMessage `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ThreadMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ProviderAccount is a user's connected upstream model-provider binding.
type ProviderAccount struct {
	UserID   int64  `json:"user_id"`
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"`
	Model    string `json:"model"`
	Status   string `json:"status"` // "connected" or "revoked"
}

// Record collections consumed by the context aggregator. All money
// values are decimals; formatting conventions live in the aggregator.

type Transaction struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"` // "credit" or "debit"
	Category      string          `json:"category"`
	PaymentMethod string          `json:"payment_method"`
}

type Account struct {
	ID      string          `json:"id"`
	UserID  int64           `json:"user_id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"` // "bank", "cash", "credit"
	Balance decimal.Decimal `json:"balance"`
}

type Category struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	Name          string          `json:"name"`
	MonthlyBudget decimal.Decimal `json:"monthly_budget"`
}

type Holding struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Units     decimal.Decimal `json:"units"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	LastPrice decimal.Decimal `json:"last_price"`
}

type RecurringPlan struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"user_id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Interval string          `json:"interval"` // "weekly", "monthly", "yearly"
	NextDue  time.Time       `json:"next_due"`
	Active   bool            `json:"active"`
}

type Goal struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"user_id"`
	Name     string          `json:"name"`
	Target   decimal.Decimal `json:"target"`
	Saved    decimal.Decimal `json:"saved"`
	Deadline time.Time       `json:"deadline"`
}

type Rule struct {
	ID       string `json:"id"`
	UserID   int64  `json:"user_id"`
	Match    string `json:"match"` // substring matched against descriptions
	Category string `json:"category"`
	Active   bool   `json:"active"`
}

// AISummary is a previously generated advisor summary, kept so later
// conversations can reference earlier conclusions.
type AISummary struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NWIConfig is the needs/wants/investments allocation split, a single
// document per user.
type NWIConfig struct {
	UserID    int64 `json:"user_id"`
	NeedsPct  int   `json:"needs_pct"`
	WantsPct  int   `json:"wants_pct"`
	InvestPct int   `json:"invest_pct"`
}
