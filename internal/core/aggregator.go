package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"omfinance.app/advisor/internal/store"
)

// RecordSource is the document-store contract the aggregator consumes:
// nine independently capped reads keyed by user.
type RecordSource interface {
	Transactions(ctx context.Context, userID int64, limit int) ([]store.Transaction, error)
	Accounts(ctx context.Context, userID int64, limit int) ([]store.Account, error)
	Categories(ctx context.Context, userID int64, limit int) ([]store.Category, error)
	Holdings(ctx context.Context, userID int64, limit int) ([]store.Holding, error)
	RecurringPlans(ctx context.Context, userID int64, limit int) ([]store.RecurringPlan, error)
	Goals(ctx context.Context, userID int64, limit int) ([]store.Goal, error)
	Rules(ctx context.Context, userID int64, limit int) ([]store.Rule, error)
	AISummaries(ctx context.Context, userID int64, limit int) ([]store.AISummary, error)
	NWIConfig(ctx context.Context, userID int64) (*store.NWIConfig, error)
}

type AggregatorConfig struct {
	TransactionLimit int
	AccountLimit     int
	CategoryLimit    int
	HoldingLimit     int
	PlanLimit        int
	GoalLimit        int
	RuleLimit        int
	SummaryLimit     int

	// Rows shown in the recent-transaction table; the remaining
	// transactions still feed the derived breakdowns.
	RecentTableRows int
	TrendMonths     int
	TopPayees       int
	SummaryExcerpt  int
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		TransactionLimit: 500,
		AccountLimit:     20,
		CategoryLimit:    15,
		HoldingLimit:     100,
		PlanLimit:        100,
		GoalLimit:        50,
		RuleLimit:        100,
		SummaryLimit:     5,
		RecentTableRows:  50,
		TrendMonths:      6,
		TopPayees:        5,
		SummaryExcerpt:   240,
	}
}

// ContextBuilder reduces a user's scattered financial records into one
// bounded text document used as the system instruction of a provider
// call. The document is never persisted.
type ContextBuilder struct {
	records RecordSource
	cfg     AggregatorConfig
}

func NewContextBuilder(records RecordSource, cfg AggregatorConfig) *ContextBuilder {
	return &ContextBuilder{records: records, cfg: cfg}
}

type recordBundle struct {
	transactions []store.Transaction
	accounts     []store.Account
	categories   []store.Category
	holdings     []store.Holding
	plans        []store.RecurringPlan
	goals        []store.Goal
	rules        []store.Rule
	summaries    []store.AISummary
	nwi          *store.NWIConfig
}

// Build reads all record collections in parallel and assembles the
// context document in a fixed section order, independent of which read
// completes first. Any single failed read fails the whole aggregation;
// the advisor must not run on a partial picture.
func (b *ContextBuilder) Build(ctx context.Context, userID int64) (string, error) {
	var bundle recordBundle
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		bundle.transactions, err = b.records.Transactions(gctx, userID, b.cfg.TransactionLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.accounts, err = b.records.Accounts(gctx, userID, b.cfg.AccountLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.categories, err = b.records.Categories(gctx, userID, b.cfg.CategoryLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.holdings, err = b.records.Holdings(gctx, userID, b.cfg.HoldingLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.plans, err = b.records.RecurringPlans(gctx, userID, b.cfg.PlanLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.goals, err = b.records.Goals(gctx, userID, b.cfg.GoalLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.rules, err = b.records.Rules(gctx, userID, b.cfg.RuleLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.summaries, err = b.records.AISummaries(gctx, userID, b.cfg.SummaryLimit)
		return err
	})
	g.Go(func() (err error) {
		bundle.nwi, err = b.records.NWIConfig(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("failed to aggregate financial records: %w", err)
	}

	bundle.transactions = normalizeTransactions(bundle.transactions)

	sections := []string{
		b.overviewSection(bundle),
		b.monthlyTrendSection(bundle.transactions),
		b.categorySection(bundle.transactions),
		b.paymentMethodSection(bundle.transactions),
		b.budgetSection(bundle.categories, bundle.transactions),
		b.holdingsSection(bundle.holdings),
		b.plansSection(bundle.plans),
		b.allocationSection(bundle.nwi),
		b.goalsSection(bundle.goals),
		b.recurringExpenseSection(bundle.plans),
		b.payeesSection(bundle.transactions),
		b.summariesSection(bundle.summaries),
		b.recentTransactionsSection(bundle.transactions),
		b.rulesSection(bundle.rules),
	}

	var doc strings.Builder
	for _, section := range sections {
		if section == "" {
			continue // absent sections are omitted, not emitted empty
		}
		if doc.Len() > 0 {
			doc.WriteString("\n")
		}
		doc.WriteString(section)
	}
	return doc.String(), nil
}

// normalizeTransactions applies the record defaults in one place so no
// section has to re-check for missing fields.
func normalizeTransactions(txns []store.Transaction) []store.Transaction {
	for i := range txns {
		if txns[i].Category == "" {
			txns[i].Category = "Uncategorized"
		}
		if txns[i].PaymentMethod == "" {
			txns[i].PaymentMethod = "N/A"
		}
		if txns[i].Type != "credit" {
			txns[i].Type = "debit"
		}
	}
	return txns
}

func (b *ContextBuilder) overviewSection(bundle recordBundle) string {
	totalBalance := decimal.Zero
	for _, a := range bundle.accounts {
		totalBalance = totalBalance.Add(a.Balance)
	}
	credits, debits := sumByType(bundle.transactions)

	var s strings.Builder
	s.WriteString("== FINANCIAL OVERVIEW ==\n")
	fmt.Fprintf(&s, "As of: %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&s, "Accounts: %d, combined balance %s\n", len(bundle.accounts), inr(totalBalance))
	fmt.Fprintf(&s, "Transactions on record: %d (credits %s, debits %s, net %s)\n",
		len(bundle.transactions), inr(credits), inr(debits), inr(credits.Sub(debits)))
	return s.String()
}

func (b *ContextBuilder) monthlyTrendSection(txns []store.Transaction) string {
	if len(txns) == 0 {
		return ""
	}
	type flow struct{ credits, debits decimal.Decimal }
	byMonth := map[string]*flow{}
	for _, t := range txns {
		month := t.Date.Format("2006-01")
		f, ok := byMonth[month]
		if !ok {
			f = &flow{credits: decimal.Zero, debits: decimal.Zero}
			byMonth[month] = f
		}
		if t.Type == "credit" {
			f.credits = f.credits.Add(t.Amount)
		} else {
			f.debits = f.debits.Add(t.Amount)
		}
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	if len(months) > b.cfg.TrendMonths {
		months = months[:b.cfg.TrendMonths]
	}

	var s strings.Builder
	s.WriteString("== MONTHLY TREND ==\n")
	for _, m := range months {
		f := byMonth[m]
		fmt.Fprintf(&s, "%s: credits %s, debits %s, net %s\n", m, inr(f.credits), inr(f.debits), inr(f.credits.Sub(f.debits)))
	}
	return s.String()
}

func (b *ContextBuilder) categorySection(txns []store.Transaction) string {
	return b.debitBreakdown(txns, "== SPENDING BY CATEGORY ==", func(t store.Transaction) string { return t.Category }, 0)
}

func (b *ContextBuilder) paymentMethodSection(txns []store.Transaction) string {
	return b.debitBreakdown(txns, "== SPENDING BY PAYMENT METHOD ==", func(t store.Transaction) string { return t.PaymentMethod }, 0)
}

// debitBreakdown groups debit amounts by key, largest first, with each
// share of total spending. A zero total yields 0% shares, never a
// division error.
func (b *ContextBuilder) debitBreakdown(txns []store.Transaction, header string, key func(store.Transaction) string, top int) string {
	totals := map[string]decimal.Decimal{}
	grand := decimal.Zero
	for _, t := range txns {
		if t.Type != "debit" {
			continue
		}
		totals[key(t)] = totals[key(t)].Add(t.Amount)
		grand = grand.Add(t.Amount)
	}
	if len(totals) == 0 {
		return ""
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !totals[keys[i]].Equal(totals[keys[j]]) {
			return totals[keys[i]].GreaterThan(totals[keys[j]])
		}
		return keys[i] < keys[j]
	})
	if top > 0 && len(keys) > top {
		keys = keys[:top]
	}

	var s strings.Builder
	s.WriteString(header + "\n")
	for _, k := range keys {
		fmt.Fprintf(&s, "%s: %s (%s of spending)\n", k, inr(totals[k]), pctOf(totals[k], grand))
	}
	return s.String()
}

func (b *ContextBuilder) budgetSection(categories []store.Category, txns []store.Transaction) string {
	budgeted := make([]store.Category, 0, len(categories))
	for _, c := range categories {
		if c.MonthlyBudget.IsPositive() {
			budgeted = append(budgeted, c)
		}
	}
	if len(budgeted) == 0 {
		return ""
	}

	month := time.Now().Format("2006-01")
	spent := map[string]decimal.Decimal{}
	for _, t := range txns {
		if t.Type == "debit" && t.Date.Format("2006-01") == month {
			spent[t.Category] = spent[t.Category].Add(t.Amount)
		}
	}

	var s strings.Builder
	s.WriteString("== BUDGETS (THIS MONTH) ==\n")
	for _, c := range budgeted {
		used := spent[c.Name] // zero-value decimal is 0
		fmt.Fprintf(&s, "%s: spent %s of %s (%s used)\n", c.Name, inr(used), inr(c.MonthlyBudget), pctOf(used, c.MonthlyBudget))
	}
	return s.String()
}

func (b *ContextBuilder) holdingsSection(holdings []store.Holding) string {
	if len(holdings) == 0 {
		return ""
	}
	var s strings.Builder
	s.WriteString("== HOLDINGS ==\n")
	totalValue := decimal.Zero
	for _, h := range holdings {
		value := h.Units.Mul(h.LastPrice)
		cost := h.Units.Mul(h.AvgCost)
		totalValue = totalValue.Add(value)
		fmt.Fprintf(&s, "%s (%s): %s units, value %s, cost %s, P/L %s\n",
			h.Symbol, h.Name, h.Units.String(), inr(value), inr(cost), pctOf(value.Sub(cost), cost))
	}
	fmt.Fprintf(&s, "Total holdings value: %s\n", inr(totalValue))
	return s.String()
}

func (b *ContextBuilder) plansSection(plans []store.RecurringPlan) string {
	active := activePlans(plans)
	if len(active) == 0 {
		return ""
	}
	var s strings.Builder
	s.WriteString("== RECURRING PLANS ==\n")
	for _, p := range active {
		fmt.Fprintf(&s, "%s: %s %s, next due %s\n", p.Name, inr(p.Amount), p.Interval, p.NextDue.Format("2006-01-02"))
	}
	return s.String()
}

func (b *ContextBuilder) allocationSection(nwi *store.NWIConfig) string {
	if nwi == nil {
		return ""
	}
	return fmt.Sprintf("== ALLOCATION TARGETS ==\nNeeds %d%% / Wants %d%% / Investments %d%%\n",
		nwi.NeedsPct, nwi.WantsPct, nwi.InvestPct)
}

func (b *ContextBuilder) goalsSection(goals []store.Goal) string {
	if len(goals) == 0 {
		return ""
	}
	var s strings.Builder
	s.WriteString("== GOALS ==\n")
	for _, g := range goals {
		fmt.Fprintf(&s, "%s: %s of %s (%s funded)", g.Name, inr(g.Saved), inr(g.Target), pctOf(g.Saved, g.Target))
		if !g.Deadline.IsZero() {
			fmt.Fprintf(&s, ", deadline %s", g.Deadline.Format("2006-01-02"))
		}
		s.WriteString("\n")
	}
	return s.String()
}

func (b *ContextBuilder) recurringExpenseSection(plans []store.RecurringPlan) string {
	active := activePlans(plans)
	if len(active) == 0 {
		return ""
	}
	monthly := decimal.Zero
	for _, p := range active {
		monthly = monthly.Add(monthlyEquivalent(p))
	}
	return fmt.Sprintf("== RECURRING EXPENSE SUMMARY ==\nActive plans: %d, estimated monthly outflow %s\n",
		len(active), inr(monthly))
}

func (b *ContextBuilder) payeesSection(txns []store.Transaction) string {
	return b.debitBreakdown(txns, "== TOP PAYEES ==", func(t store.Transaction) string { return payeeOf(t.Description) }, b.cfg.TopPayees)
}

func (b *ContextBuilder) summariesSection(summaries []store.AISummary) string {
	if len(summaries) == 0 {
		return ""
	}
	var s strings.Builder
	s.WriteString("== EARLIER ADVISOR NOTES ==\n")
	for _, sum := range summaries {
		excerpt := sum.Content
		if len(excerpt) > b.cfg.SummaryExcerpt {
			excerpt = excerpt[:b.cfg.SummaryExcerpt] + "…"
		}
		fmt.Fprintf(&s, "- [%s] %s\n", sum.CreatedAt.Format("2006-01-02"), excerpt)
	}
	return s.String()
}

func (b *ContextBuilder) recentTransactionsSection(txns []store.Transaction) string {
	if len(txns) == 0 {
		return ""
	}
	rows := txns
	if len(rows) > b.cfg.RecentTableRows {
		rows = rows[:b.cfg.RecentTableRows]
	}
	var s strings.Builder
	s.WriteString("== RECENT TRANSACTIONS ==\n")
	for _, t := range rows {
		fmt.Fprintf(&s, "%s | %s | %s %s | %s | %s\n",
			t.Date.Format("2006-01-02"), t.Description, t.Type, inr(t.Amount), t.Category, t.PaymentMethod)
	}
	return s.String()
}

func (b *ContextBuilder) rulesSection(rules []store.Rule) string {
	if len(rules) == 0 {
		return ""
	}
	var s strings.Builder
	s.WriteString("== ACTIVE CATEGORY RULES ==\n")
	for _, r := range rules {
		fmt.Fprintf(&s, "- %q -> %s\n", r.Match, r.Category)
	}
	return s.String()
}

// Formatting helpers. Currency is rupees with two fixed decimals.

func inr(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

// pctOf renders part as a share of whole; a zero denominator is 0%.
func pctOf(part, whole decimal.Decimal) string {
	if whole.IsZero() {
		return "0.0%"
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

func sumByType(txns []store.Transaction) (credits, debits decimal.Decimal) {
	credits, debits = decimal.Zero, decimal.Zero
	for _, t := range txns {
		if t.Type == "credit" {
			credits = credits.Add(t.Amount)
		} else {
			debits = debits.Add(t.Amount)
		}
	}
	return credits, debits
}

func activePlans(plans []store.RecurringPlan) []store.RecurringPlan {
	active := make([]store.RecurringPlan, 0, len(plans))
	for _, p := range plans {
		if p.Active {
			active = append(active, p)
		}
	}
	return active
}

func monthlyEquivalent(p store.RecurringPlan) decimal.Decimal {
	switch p.Interval {
	case "weekly":
		return p.Amount.Mul(decimal.NewFromInt(52)).Div(decimal.NewFromInt(12))
	case "yearly":
		return p.Amount.Div(decimal.NewFromInt(12))
	default:
		return p.Amount
	}
}

// payeeOf derives a coarse payee label from a transaction description,
// e.g. "UPI/SWIGGY/1234/food order" -> "SWIGGY".
func payeeOf(description string) string {
	fields := strings.Split(strings.ToUpper(description), "/")
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "UPI" || f == "NEFT" || f == "IMPS" {
			continue
		}
		if len(f) > 24 {
			f = f[:24]
		}
		return f
	}
	return "UNKNOWN"
}
