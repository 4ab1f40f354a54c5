package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS threads (
        id TEXT NOT NULL,
        user_id INTEGER NOT NULL,
        title TEXT NOT NULL,
        messages_json TEXT NOT NULL, -- embedded message documents
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        PRIMARY KEY (user_id, id),
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS provider_accounts (
        user_id INTEGER PRIMARY KEY,
        provider TEXT NOT NULL,
        base_url TEXT NOT NULL,
        api_key TEXT NOT NULL,
        model TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'connected',
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS transactions (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        date DATETIME NOT NULL,
        description TEXT NOT NULL,
        amount TEXT NOT NULL,
        type TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
        category TEXT NOT NULL DEFAULT '',
        payment_method TEXT NOT NULL DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions (user_id, date DESC);

    CREATE TABLE IF NOT EXISTS accounts (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        type TEXT NOT NULL DEFAULT 'bank',
        balance TEXT NOT NULL DEFAULT '0'
    );

    CREATE TABLE IF NOT EXISTS categories (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        monthly_budget TEXT NOT NULL DEFAULT '0'
    );

    CREATE TABLE IF NOT EXISTS holdings (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        symbol TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        units TEXT NOT NULL DEFAULT '0',
        avg_cost TEXT NOT NULL DEFAULT '0',
        last_price TEXT NOT NULL DEFAULT '0'
    );

    CREATE TABLE IF NOT EXISTS recurring_plans (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        amount TEXT NOT NULL DEFAULT '0',
        interval TEXT NOT NULL DEFAULT 'monthly',
        next_due DATETIME,
        active BOOLEAN NOT NULL DEFAULT TRUE
    );

    CREATE TABLE IF NOT EXISTS goals (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        target TEXT NOT NULL DEFAULT '0',
        saved TEXT NOT NULL DEFAULT '0',
        deadline DATETIME
    );

    CREATE TABLE IF NOT EXISTS rules (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        pattern TEXT NOT NULL,
        category TEXT NOT NULL,
        active BOOLEAN NOT NULL DEFAULT TRUE
    );

    CREATE TABLE IF NOT EXISTS ai_summaries (
        id TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS nwi_config (
        user_id INTEGER PRIMARY KEY,
        needs_pct INTEGER NOT NULL DEFAULT 50,
        wants_pct INTEGER NOT NULL DEFAULT 30,
        invest_pct INTEGER NOT NULL DEFAULT 20
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Thread methods. Threads are stored as documents: the message history
// lives in a JSON column, so an append is a read-modify-write of one row.

func (s *SQLiteStore) Thread(ctx context.Context, userID int64, threadID string) (*Thread, error) {
	var t Thread
	var messagesJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, messages_json, created_at, updated_at FROM threads WHERE user_id = ? AND id = ?",
		userID, threadID).Scan(&t.ID, &t.UserID, &t.Title, &messagesJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Thread not found
		}
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &t.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode thread messages: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) SaveThread(ctx context.Context, t *Thread) error {
	messagesJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode thread messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO threads (id, user_id, title, messages_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, id) DO UPDATE SET
            title = excluded.title,
            messages_json = excluded.messages_json,
            updated_at = excluded.updated_at`,
		t.ID, t.UserID, t.Title, string(messagesJSON), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

// ListThreads returns a user's threads newest-first, without messages.
func (s *SQLiteStore) ListThreads(ctx context.Context, userID int64) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM threads WHERE user_id = ? ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Provider account methods

// ProviderAccount returns the user's live provider binding, or nil when
// none is connected.
func (s *SQLiteStore) ProviderAccount(ctx context.Context, userID int64) (*ProviderAccount, error) {
	var a ProviderAccount
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, provider, base_url, api_key, model, status FROM provider_accounts WHERE user_id = ? AND status = 'connected'",
		userID).Scan(&a.UserID, &a.Provider, &a.BaseURL, &a.APIKey, &a.Model, &a.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query provider account: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) SaveProviderAccount(ctx context.Context, a *ProviderAccount) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO provider_accounts (user_id, provider, base_url, api_key, model, status)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            provider = excluded.provider,
            base_url = excluded.base_url,
            api_key = excluded.api_key,
            model = excluded.model,
            status = excluded.status`,
		a.UserID, a.Provider, a.BaseURL, a.APIKey, a.Model, a.Status)
	if err != nil {
		return fmt.Errorf("failed to save provider account: %w", err)
	}
	return nil
}

// Record collection reads, each capped and keyed by user.

func (s *SQLiteStore) Transactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, date, description, amount, type, category, payment_method FROM transactions WHERE user_id = ? ORDER BY date DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Date, &t.Description, &t.Amount, &t.Type, &t.Category, &t.PaymentMethod); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *SQLiteStore) Accounts(ctx context.Context, userID int64, limit int) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, type, balance FROM accounts WHERE user_id = ? ORDER BY name LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) Categories(ctx context.Context, userID int64, limit int) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, monthly_budget FROM categories WHERE user_id = ? ORDER BY name LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.MonthlyBudget); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *SQLiteStore) Holdings(ctx context.Context, userID int64, limit int) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, symbol, name, units, avg_cost, last_price FROM holdings WHERE user_id = ? ORDER BY symbol LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Name, &h.Units, &h.AvgCost, &h.LastPrice); err != nil {
			return nil, fmt.Errorf("failed to scan holding row: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *SQLiteStore) RecurringPlans(ctx context.Context, userID int64, limit int) ([]RecurringPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, amount, interval, next_due, active FROM recurring_plans WHERE user_id = ? ORDER BY next_due LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring plans: %w", err)
	}
	defer rows.Close()

	var plans []RecurringPlan
	for rows.Next() {
		var p RecurringPlan
		var nextDue sql.NullTime
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Amount, &p.Interval, &nextDue, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan recurring plan row: %w", err)
		}
		p.NextDue = nextDue.Time
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *SQLiteStore) Goals(ctx context.Context, userID int64, limit int) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, target, saved, deadline FROM goals WHERE user_id = ? ORDER BY deadline LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		var deadline sql.NullTime
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.Target, &g.Saved, &deadline); err != nil {
			return nil, fmt.Errorf("failed to scan goal row: %w", err)
		}
		g.Deadline = deadline.Time
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (s *SQLiteStore) Rules(ctx context.Context, userID int64, limit int) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, pattern, category, active FROM rules WHERE user_id = ? AND active = TRUE ORDER BY category LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.UserID, &r.Match, &r.Category, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) AISummaries(ctx context.Context, userID int64, limit int) ([]AISummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, content, created_at FROM ai_summaries WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ai summaries: %w", err)
	}
	defer rows.Close()

	var summaries []AISummary
	for rows.Next() {
		var a AISummary
		if err := rows.Scan(&a.ID, &a.UserID, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ai summary row: %w", err)
		}
		summaries = append(summaries, a)
	}
	return summaries, rows.Err()
}

// NWIConfig returns the user's allocation split, or nil when unset.
func (s *SQLiteStore) NWIConfig(ctx context.Context, userID int64) (*NWIConfig, error) {
	var c NWIConfig
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, needs_pct, wants_pct, invest_pct FROM nwi_config WHERE user_id = ?",
		userID).Scan(&c.UserID, &c.NeedsPct, &c.WantsPct, &c.InvestPct)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query nwi config: %w", err)
	}
	return &c, nil
}

// Record inserts. These back seeding and tests; the records themselves
// are written by other parts of the application.

func (s *SQLiteStore) AddTransaction(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transactions (id, user_id, date, description, amount, type, category, payment_method) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.UserID, t.Date, t.Description, t.Amount.String(), t.Type, t.Category, t.PaymentMethod)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddAccount(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, user_id, name, type, balance) VALUES (?, ?, ?, ?, ?)",
		a.ID, a.UserID, a.Name, a.Type, a.Balance.String())
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddCategory(ctx context.Context, c *Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (id, user_id, name, monthly_budget) VALUES (?, ?, ?, ?)",
		c.ID, c.UserID, c.Name, c.MonthlyBudget.String())
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddHolding(ctx context.Context, h *Holding) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO holdings (id, user_id, symbol, name, units, avg_cost, last_price) VALUES (?, ?, ?, ?, ?, ?, ?)",
		h.ID, h.UserID, h.Symbol, h.Name, h.Units.String(), h.AvgCost.String(), h.LastPrice.String())
	if err != nil {
		return fmt.Errorf("failed to insert holding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddRecurringPlan(ctx context.Context, p *RecurringPlan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO recurring_plans (id, user_id, name, amount, interval, next_due, active) VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.UserID, p.Name, p.Amount.String(), p.Interval, p.NextDue, p.Active)
	if err != nil {
		return fmt.Errorf("failed to insert recurring plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddGoal(ctx context.Context, g *Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO goals (id, user_id, name, target, saved, deadline) VALUES (?, ?, ?, ?, ?, ?)",
		g.ID, g.UserID, g.Name, g.Target.String(), g.Saved.String(), g.Deadline)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddRule(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rules (id, user_id, pattern, category, active) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.UserID, r.Match, r.Category, r.Active)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddAISummary(ctx context.Context, a *AISummary) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ai_summaries (id, user_id, content, created_at) VALUES (?, ?, ?, ?)",
		a.ID, a.UserID, a.Content, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ai summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetNWIConfig(ctx context.Context, c *NWIConfig) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO nwi_config (user_id, needs_pct, wants_pct, invest_pct)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            needs_pct = excluded.needs_pct,
            wants_pct = excluded.wants_pct,
            invest_pct = excluded.invest_pct`,
		c.UserID, c.NeedsPct, c.WantsPct, c.InvestPct)
	if err != nil {
		return fmt.Errorf("failed to set nwi config: %w", err)
	}
	return nil
}
