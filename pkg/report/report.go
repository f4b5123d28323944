// Package report assembles the filtered ledger view with its aggregate tables and daily balances.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/aggregate"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/balance"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/db"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
)

// DefaultStart is the first day shown when a request has no start date.
var DefaultStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// StatsWindow is the trailing period covered by Stats.
const StatsWindow = 7 * 24 * time.Hour

// FilterColumns are the text columns the dashboard offers as substring filters.
var FilterColumns = []string{"std_vendor", "std_identifier", "std_balance_joiner"}

// Request selects the rows of a report. Start and End are calendar days; End is inclusive.
type Request struct {
	Start   time.Time
	End     time.Time
	Filters map[string]string
}

// Summary holds totals over the filtered rows. Nulls count as zero.
type Summary struct {
	Records            int             `json:"records"`
	StdAmount          decimal.Decimal `json:"std_amount"`
	StdVendorCost      decimal.Decimal `json:"std_vendor_cost"`
	StdAdminFee        decimal.Decimal `json:"std_admin_fee"`
	StdAdminFeeInvoice decimal.Decimal `json:"std_admin_fee_invoice"`
	// OpeningBalance and ClosingBalance span the filtered rows in last_updated order.
	OpeningBalance decimal.NullDecimal `json:"opening_balance"`
	ClosingBalance decimal.NullDecimal `json:"closing_balance"`
}

// View is a complete report.
type View struct {
	Start time.Time
	End   time.Time
	Rows  []ledger.Record
	// TransactionAmounts sums std_amount by std_transaction_date.
	TransactionAmounts []aggregate.DailySum
	// VendorSettlements sums std_amount - std_vendor_cost by std_vendor_settled_date.
	VendorSettlements []aggregate.DailySum
	// SettledClientAmounts sums amount by last_updated.
	SettledClientAmounts []aggregate.DailySum
	// DailyBalances is chained over the full history, ignoring the request filters.
	DailyBalances []balance.DailyBalance
	Summary       Summary
}

// QuickStats covers the trailing StatsWindow.
type QuickStats struct {
	Since       time.Time       `json:"since"`
	Records     int64           `json:"records"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Source is the storage the report reads.
type Source interface {
	Query(ctx context.Context, f db.Filter) ([]ledger.Record, error)
	BalanceHistory(ctx context.Context) ([]ledger.Record, error)
	RecentTotals(ctx context.Context, since time.Time) (int64, decimal.Decimal, error)
}

// Builder builds reports in one time zone.
type Builder struct {
	source Source
	loc    *time.Location
}

// NewBuilder creates a Builder. Calendar days are taken in loc.
func NewBuilder(source Source, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{source: source, loc: loc}
}

// Location returns the report time zone.
func (b *Builder) Location() *time.Location {
	return b.loc
}

// Normalize fills defaults (Start = 2025-01-01, End = today) and validates the request.
func (b *Builder) Normalize(req Request, now time.Time) (Request, error) {
	if req.Start.IsZero() {
		req.Start = time.Date(DefaultStart.Year(), DefaultStart.Month(), DefaultStart.Day(), 0, 0, 0, 0, b.loc)
	}
	if req.End.IsZero() {
		req.End = now.In(b.loc)
	}
	req.Start = b.day(req.Start)
	req.End = b.day(req.End)

	if req.End.Before(req.Start) {
		return req, &ledger.ValidationError{
			Column: "date range",
			Value:  fmt.Sprintf("%s..%s", req.Start.Format("2006-01-02"), req.End.Format("2006-01-02")),
			Reason: "end date is before start date",
		}
	}

	filters := make(map[string]string, len(req.Filters))
	for name, value := range req.Filters {
		col := strings.ToLower(strings.TrimSpace(name))
		c, ok := ledger.Lookup(col)
		if !ok || c.Kind != ledger.KindText {
			return req, &ledger.ValidationError{Column: "filter", Value: name, Reason: "filters apply to text columns only"}
		}
		if v := strings.TrimSpace(value); v != "" {
			filters[col] = v
		}
	}
	req.Filters = filters

	return req, nil
}

// Build runs the report for req.
func (b *Builder) Build(ctx context.Context, req Request) (*View, error) {
	req, err := b.Normalize(req, time.Now())
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)

	rows, err := b.source.Query(ctx, db.Filter{
		From:     req.Start,
		To:       req.End.AddDate(0, 0, 1),
		Contains: req.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load report rows: %w", err)
	}

	history, err := b.source.BalanceHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance history: %w", err)
	}

	view := &View{
		Start:                req.Start,
		End:                  req.End,
		Rows:                 rows,
		TransactionAmounts:   aggregate.SumByDate(rows, "std_transaction_date", "std_amount", "", b.loc),
		VendorSettlements:    aggregate.SumByDate(rows, "std_vendor_settled_date", "std_amount", "std_vendor_cost", b.loc),
		SettledClientAmounts: aggregate.SumByDate(rows, "last_updated", "amount", "", b.loc),
		DailyBalances:        balance.Chain(history, b.loc),
		Summary:              summarize(rows),
	}

	log.Debug().
		Time("start", req.Start).
		Time("end", req.End).
		Int("rows", len(rows)).
		Int("balance_days", len(view.DailyBalances)).
		Msg("report built")

	return view, nil
}

// Stats returns the record count and std_amount total of the trailing week.
func (b *Builder) Stats(ctx context.Context, now time.Time) (*QuickStats, error) {
	since := b.day(now.Add(-StatsWindow))
	count, total, err := b.source.RecentTotals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load quick stats: %w", err)
	}
	return &QuickStats{Since: since, Records: count, TotalAmount: total}, nil
}

// IsValidation reports whether err rejects the request rather than failing it.
func IsValidation(err error) bool {
	return errors.Is(err, ledger.ErrValidation)
}

func (b *Builder) day(t time.Time) time.Time {
	local := t.In(b.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.loc)
}

func summarize(rows []ledger.Record) Summary {
	opening, closing := balance.Span(rows)
	return Summary{
		Records:            len(rows),
		StdAmount:          aggregate.Total(rows, "std_amount"),
		StdVendorCost:      aggregate.Total(rows, "std_vendor_cost"),
		StdAdminFee:        aggregate.Total(rows, "std_admin_fee"),
		StdAdminFeeInvoice: aggregate.Total(rows, "std_admin_fee_invoice"),
		OpeningBalance:     opening,
		ClosingBalance:     closing,
	}
}
