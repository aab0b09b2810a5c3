// Package financial aggregates profit/loss and dashboard figures from
// committed transactions.
package financial

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// profitLossTimeout bounds a shared profit/loss computation, which outlives
// the request that started it.
const profitLossTimeout = 30 * time.Second

// Chart window bounds in days.
const (
	DefaultChartDays = 7
	MaxChartDays     = 90
)

// ProfitLoss is the income statement over a date range.
type ProfitLoss struct {
	Revenue             decimal.Decimal  `json:"revenue"`
	COGS                decimal.Decimal  `json:"cogs"`
	GrossProfit         decimal.Decimal  `json:"gross_profit"`
	OperationalExpenses decimal.Decimal  `json:"operational_expenses"`
	NetProfit           decimal.Decimal  `json:"net_profit"`
	Range               shared.DateRange `json:"range"`
}

// SaleTotals sums OUT lines: revenue from subtotals and COGS from the cost
// snapshotted at sale time.
type SaleTotals struct {
	Revenue decimal.Decimal
	COGS    decimal.Decimal
}

// DailyTotal aggregates transaction headers of one calendar day.
type DailyTotal struct {
	Day           time.Time
	Sales         decimal.Decimal
	Purchases     decimal.Decimal
	SalesCount    int
	PurchaseCount int
}

// DashboardSummary is the landing page overview.
type DashboardSummary struct {
	TotalSalesMonth       decimal.Decimal
	TotalPurchaseMonth    decimal.Decimal
	EstimatedProfitToday  decimal.Decimal
	TransactionCountToday int
	SalesCountMonth       int
	PurchaseCountMonth    int
}

// ChartPoint is one day of the sales/purchase chart.
type ChartPoint struct {
	Day      time.Time
	Sales    decimal.Decimal
	Purchase decimal.Decimal
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	SaleTotals(ctx context.Context, r shared.DateRange) (SaleTotals, error)
	DailyTotals(ctx context.Context, r shared.DateRange) ([]DailyTotal, error)
}

// Cache stores report results under versioned keys.
type Cache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Service computes financial reports.
type Service struct {
	repo   RepositoryPort
	cache  Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. A nil cache computes every request.
func NewService(repo RepositoryPort, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// WithClock overrides the clock used for "today".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ProfitLoss reports revenue, COGS and profit over the inclusive range.
// Identical concurrent requests share one computation, which runs detached
// from any single caller so that a cancelled caller does not fail the others.
func (s *Service) ProfitLoss(ctx context.Context, r shared.DateRange) (ProfitLoss, error) {
	if s.cache == nil {
		return s.computeProfitLoss(ctx, r)
	}
	key, err := s.cache.BuildKey(ctx, "financial", "pl", r.Key())
	if err != nil {
		s.logger.Warn("build profit/loss cache key", slog.Any("error", err))
		return s.computeProfitLoss(ctx, r)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profitLossTimeout)
		defer cancel()
		var pl ProfitLoss
		err := s.cache.FetchJSON(flightCtx, key, &pl, func(ctx context.Context) (any, error) {
			return s.computeProfitLoss(ctx, r)
		})
		return pl, err
	})
	select {
	case <-ctx.Done():
		return ProfitLoss{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ProfitLoss{}, res.Err
		}
		return res.Val.(ProfitLoss), nil
	}
}

func (s *Service) computeProfitLoss(ctx context.Context, r shared.DateRange) (ProfitLoss, error) {
	totals, err := s.repo.SaleTotals(ctx, r)
	if err != nil {
		return ProfitLoss{}, err
	}
	return buildProfitLoss(totals, r), nil
}

func buildProfitLoss(totals SaleTotals, r shared.DateRange) ProfitLoss {
	revenue := shared.RoundMoney(totals.Revenue)
	cogs := shared.RoundMoney(totals.COGS)
	gross := revenue.Sub(cogs)
	opex := decimal.Zero
	return ProfitLoss{
		Revenue:             revenue,
		COGS:                cogs,
		GrossProfit:         gross,
		OperationalExpenses: opex,
		NetProfit:           gross.Sub(opex),
		Range:               r,
	}
}

// DashboardSummary reports month-to-date and today figures.
func (s *Service) DashboardSummary(ctx context.Context) (DashboardSummary, error) {
	today := shared.TruncateDay(s.now())
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	month := shared.DateRange{From: &monthStart, To: &today}
	todayRange := shared.DateRange{From: &today, To: &today}

	var (
		summary  DashboardSummary
		monthly  []DailyTotal
		daily    []DailyTotal
		todaySum SaleTotals
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		monthly, err = s.repo.DailyTotals(ctx, month)
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.repo.DailyTotals(ctx, todayRange)
		return err
	})
	g.Go(func() error {
		var err error
		todaySum, err = s.repo.SaleTotals(ctx, todayRange)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardSummary{}, err
	}

	summary.TotalSalesMonth = decimal.Zero
	summary.TotalPurchaseMonth = decimal.Zero
	for _, d := range monthly {
		summary.TotalSalesMonth = summary.TotalSalesMonth.Add(d.Sales)
		summary.TotalPurchaseMonth = summary.TotalPurchaseMonth.Add(d.Purchases)
		summary.SalesCountMonth += d.SalesCount
		summary.PurchaseCountMonth += d.PurchaseCount
	}
	for _, d := range daily {
		summary.TransactionCountToday += d.SalesCount + d.PurchaseCount
	}
	summary.EstimatedProfitToday = buildProfitLoss(todaySum, todayRange).GrossProfit
	return summary, nil
}

// Chart returns daily sales and purchase totals for the last days days,
// oldest first, with empty days filled with zero.
func (s *Service) Chart(ctx context.Context, days int) ([]ChartPoint, error) {
	if days <= 0 {
		days = DefaultChartDays
	}
	if days > MaxChartDays {
		days = MaxChartDays
	}
	today := shared.TruncateDay(s.now())
	from := today.AddDate(0, 0, -(days - 1))
	totals, err := s.repo.DailyTotals(ctx, shared.DateRange{From: &from, To: &today})
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]DailyTotal, len(totals))
	for _, t := range totals {
		byDay[t.Day.Format(shared.DateLayout)] = t
	}
	points := make([]ChartPoint, 0, days)
	for day := from; !day.After(today); day = day.AddDate(0, 0, 1) {
		point := ChartPoint{Day: day, Sales: decimal.Zero, Purchase: decimal.Zero}
		if t, ok := byDay[day.Format(shared.DateLayout)]; ok {
			point.Sales = t.Sales
			point.Purchase = t.Purchases
		}
		points = append(points, point)
	}
	return points, nil
}
