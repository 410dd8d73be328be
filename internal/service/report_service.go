package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
	"github.com/vatledger/engine/pkg/money"
)

// --- DTOs ---

type CustomerTypeSummary struct {
	CustomerType string      `json:"customer_type"`
	OrderCount   int64       `json:"order_count"`
	Sales        money.Cents `json:"sales"`
	Vat          money.Cents `json:"vat"`
}

// TaxSummary is an ad-hoc aggregate over [Start, End). Nothing is persisted.
type TaxSummary struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	OrderCount  int64       `json:"order_count"`
	TotalSales  money.Cents `json:"total_sales"`
	TotalVat    money.Cents `json:"total_vat"`
	TotalAmount money.Cents `json:"total_amount"`

	StandardVat      money.Cents `json:"standard_vat"`
	ReducedVat       money.Cents `json:"reduced_vat"`
	SecondReducedVat money.Cents `json:"second_reduced_vat"`
	ZeroRatedSales   money.Cents `json:"zero_rated_sales"`
	ExemptSales      money.Cents `json:"exempt_sales"`
	EUB2BSales       money.Cents `json:"eu_b2b_sales"`
	EUB2CSales       money.Cents `json:"eu_b2c_sales"`

	ByCustomerType []CustomerTypeSummary `json:"by_customer_type"`
}

// VatBreakdownRow is the sales and VAT booked at one rate bucket.
type VatBreakdownRow struct {
	Rate        decimal.Decimal `json:"rate"`
	RateName    string          `json:"rate_name"`
	SalesAmount money.Cents     `json:"sales_amount"`
	VatAmount   money.Cents     `json:"vat_amount"`
	OrderCount  int64           `json:"order_count"`
}

// --- Interface ---

type ReportService interface {
	TaxSummary(ctx context.Context, start, end time.Time) (TaxSummary, error)
	VatBreakdown(ctx context.Context, start, end time.Time) ([]VatBreakdownRow, error)
}

type reportService struct {
	txManager  repository.TransactionManager
	recordRepo repository.TaxRecordRepository
	rules      vat.Rules
}

func NewReportService(txManager repository.TransactionManager, recordRepo repository.TaxRecordRepository, rules vat.Rules) ReportService {
	return &reportService{txManager: txManager, recordRepo: recordRepo, rules: rules}
}

// --- Implementation ---

func (s *reportService) TaxSummary(ctx context.Context, start, end time.Time) (TaxSummary, error) {
	if err := validateRange("report.summary", start, end); err != nil {
		return TaxSummary{}, err
	}

	var (
		totals repository.TaxTotals
		byType []repository.CustomerTypeTotals
	)
	err := s.txManager.RunInSnapshotTx(ctx, func(txCtx context.Context) error {
		var err error
		if totals, err = s.recordRepo.SumBetween(txCtx, start, end); err != nil {
			return fmt.Errorf("failed to aggregate tax records: %w", err)
		}
		if byType, err = s.recordRepo.SumByCustomerType(txCtx, start, end); err != nil {
			return fmt.Errorf("failed to aggregate tax records by customer type: %w", err)
		}
		return nil
	})
	if err != nil {
		return TaxSummary{}, err
	}

	summary := TaxSummary{
		Start:            start,
		End:              end,
		OrderCount:       totals.RecordCount,
		TotalSales:       totals.Subtotal,
		TotalVat:         totals.VatAmount,
		TotalAmount:      totals.TotalAmount,
		StandardVat:      totals.StandardVat,
		ReducedVat:       totals.ReducedVat,
		SecondReducedVat: totals.SecondReducedVat,
		ZeroRatedSales:   totals.ZeroNet,
		ExemptSales:      totals.ExemptNet,
		EUB2BSales:       totals.EUB2BSales,
		EUB2CSales:       totals.EUB2CSales,
		ByCustomerType:   make([]CustomerTypeSummary, 0, len(byType)),
	}
	for _, t := range byType {
		if !vat.CustomerType(t.CustomerType).Valid() {
			return TaxSummary{}, apperror.Errorf(apperror.ECONFIGURATION, "report.summary",
				"%d tax records carry unknown customer type %q", t.RecordCount, t.CustomerType)
		}
		summary.ByCustomerType = append(summary.ByCustomerType, CustomerTypeSummary{
			CustomerType: t.CustomerType,
			OrderCount:   t.RecordCount,
			Sales:        t.Subtotal,
			Vat:          t.VatAmount,
		})
	}
	return summary, nil
}

// VatBreakdown lists the non-empty buckets from the highest rate down, with
// exempt sales last. An order with lines in several buckets counts once in each.
func (s *reportService) VatBreakdown(ctx context.Context, start, end time.Time) ([]VatBreakdownRow, error) {
	if err := validateRange("report.breakdown", start, end); err != nil {
		return nil, err
	}

	totals, err := s.recordRepo.SumBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tax records: %w", err)
	}

	b := s.rules.Buckets
	candidates := []VatBreakdownRow{
		{Rate: b.Standard, RateName: "Standard", SalesAmount: totals.StandardNet, VatAmount: totals.StandardVat, OrderCount: totals.StandardCount},
		{Rate: b.Reduced, RateName: "Reduced", SalesAmount: totals.ReducedNet, VatAmount: totals.ReducedVat, OrderCount: totals.ReducedCount},
		{Rate: b.SecondReduced, RateName: "Second Reduced", SalesAmount: totals.SecondReducedNet, VatAmount: totals.SecondReducedVat, OrderCount: totals.SecondReducedCount},
		{Rate: b.Zero, RateName: "Zero", SalesAmount: totals.ZeroNet, VatAmount: totals.ZeroVat, OrderCount: totals.ZeroCount},
		{Rate: decimal.Zero, RateName: "Exempt", SalesAmount: totals.ExemptNet, VatAmount: totals.ExemptAmount, OrderCount: totals.ExemptCount},
	}

	rows := make([]VatBreakdownRow, 0, len(candidates))
	for _, row := range candidates {
		if row.OrderCount == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
