package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
)

// --- DTOs ---

// TaxRecordConfig carries what the builder needs besides its repositories.
type TaxRecordConfig struct {
	Rules           vat.Rules
	SellerVatNumber string
	// Location the tax point is read in when resolving its filing period.
	// Defaults to UTC.
	Location *time.Location
	// BatchSize is the page size of bulk recomputes and sweeps. Defaults to 200.
	BatchSize int
}

// RecalculateResult summarises a bulk run. Failed maps order id to the error message.
type RecalculateResult struct {
	// Total is the number of taxable orders when a recompute started. Sweeps leave it zero.
	Total     int64                `json:"total,omitempty"`
	Processed int                  `json:"processed"`
	Succeeded []uuid.UUID          `json:"succeeded"`
	Failed    map[uuid.UUID]string `json:"failed"`
}

func newRecalculateResult() RecalculateResult {
	return RecalculateResult{Failed: make(map[uuid.UUID]string)}
}

// --- Interface ---

type TaxRecordService interface {
	// CalculateOrderTax returns the order's tax record, creating it on first call.
	CalculateOrderTax(ctx context.Context, orderID uuid.UUID) (*model.TaxRecord, error)
	GetTaxRecord(ctx context.Context, orderID uuid.UUID) (*model.TaxRecord, error)
	// RecalculateAllTaxRecords recomputes and replaces the record of every
	// qualifying order. Per-order failures do not stop the run; they are
	// reported in the result and combined into the returned error.
	RecalculateAllTaxRecords(ctx context.Context) (RecalculateResult, error)
	// SweepMissing creates records for qualifying orders that have none.
	SweepMissing(ctx context.Context) (RecalculateResult, error)
}

type taxRecordService struct {
	txManager  repository.TransactionManager
	orderRepo  repository.OrderRepository
	recordRepo repository.TaxRecordRepository
	audit      auditWriter

	rules      vat.Rules
	classifier *vat.Classifier
	calculator *vat.LineCalculator
	seller     string
	loc        *time.Location
	batchSize  int

	options
}

func NewTaxRecordService(
	cfg TaxRecordConfig,
	txManager repository.TransactionManager,
	orderRepo repository.OrderRepository,
	recordRepo repository.TaxRecordRepository,
	auditRepo repository.AuditRepository,
	rates vat.RateResolver,
	opts ...Option,
) TaxRecordService {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}
	svc := &taxRecordService{
		txManager:  txManager,
		orderRepo:  orderRepo,
		recordRepo: recordRepo,
		audit:      auditWriter{repo: auditRepo},
		rules:      cfg.Rules,
		classifier: vat.NewClassifier(cfg.Rules),
		calculator: vat.NewLineCalculator(cfg.Rules, rates),
		seller:     strings.TrimSpace(cfg.SellerVatNumber),
		loc:        loc,
		batchSize:  batch,
		options:    buildOptions(opts),
	}
	if svc.seller == "" {
		svc.logger.Warn("Seller VAT number is not configured; tax records cannot be created")
	}
	return svc
}

// --- Implementation ---

func (s *taxRecordService) CalculateOrderTax(ctx context.Context, orderID uuid.UUID) (*model.TaxRecord, error) {
	const op = "taxrecord.calculate"

	order, err := s.orderRepo.FindByIDWithItems(ctx, orderID)
	if err != nil {
		return nil, lookupErr(err, op, "order "+orderID.String())
	}

	existing, err := s.recordRepo.FindByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch tax record: %w", err)
	}

	rec, err := s.build(ctx, order)
	if err != nil {
		s.metrics.TaxRecordError(apperror.Code(err))
		return nil, err
	}

	var (
		stored  *model.TaxRecord
		created bool
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		stored, created, err = s.recordRepo.InsertOrGet(txCtx, rec)
		if err != nil {
			return fmt.Errorf("failed to save tax record: %w", err)
		}
		if !created {
			return nil
		}
		return s.audit.write(txCtx, "", model.ActionCreateTaxRecord, order.ID.String(), order.OrderNumber, auditRecordDetails(stored))
	})
	if err != nil {
		s.metrics.TaxRecordError(apperror.Code(err))
		return nil, err
	}

	if created {
		s.metrics.TaxRecord(stored.CustomerType, "created")
		s.metrics.Vat(stored.CustomerType, int64(stored.VatAmount))
		s.logger.Info("Tax record created",
			zap.String("order_id", order.ID.String()),
			zap.String("customer_type", stored.CustomerType),
			zap.String("vat_amount", stored.VatAmount.String()),
			zap.String("tax_period", stored.TaxPeriod))
	} else {
		// Another caller inserted first; its record wins.
		s.metrics.TaxRecord(stored.CustomerType, "existing")
		s.logger.Debug("Tax record already computed concurrently", zap.String("order_id", order.ID.String()))
	}
	return stored, nil
}

func (s *taxRecordService) GetTaxRecord(ctx context.Context, orderID uuid.UUID) (*model.TaxRecord, error) {
	rec, err := s.recordRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupErr(err, "taxrecord.get", "tax record for order "+orderID.String())
	}
	return rec, nil
}

func (s *taxRecordService) RecalculateAllTaxRecords(ctx context.Context) (RecalculateResult, error) {
	total, err := s.orderRepo.CountTaxable(ctx)
	if err != nil {
		return newRecalculateResult(), fmt.Errorf("failed to count taxable orders: %w", err)
	}
	s.logger.Info("Tax record recompute started", zap.Int64("orders", total))

	result, err := s.walk(ctx, s.orderRepo.ListTaxableAfter, s.replace)
	result.Total = total
	s.metrics.Recompute("recompute", len(result.Succeeded), len(result.Failed))
	s.logger.Info("Tax record recompute finished",
		zap.Int64("total", total),
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)))
	return result, err
}

func (s *taxRecordService) SweepMissing(ctx context.Context) (RecalculateResult, error) {
	result, err := s.walk(ctx, s.orderRepo.ListTaxableWithoutRecordAfter, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.CalculateOrderTax(ctx, id)
		return err
	})
	s.metrics.Recompute("sweep", len(result.Succeeded), len(result.Failed))
	if result.Processed > 0 {
		s.logger.Info("Tax record sweep finished",
			zap.Int("processed", result.Processed),
			zap.Int("failed", len(result.Failed)))
	}
	return result, err
}

type orderPager func(ctx context.Context, afterID uuid.UUID, limit int) ([]model.Order, error)

// walk applies fn to every order the pager yields, in id order. The last
// processed id is the checkpoint for the next page, so orders whose records
// change during the run are neither skipped nor revisited.
func (s *taxRecordService) walk(ctx context.Context, next orderPager, fn func(context.Context, uuid.UUID) error) (RecalculateResult, error) {
	result := newRecalculateResult()
	var errs *multierror.Error

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return result, multierror.Append(errs, err).ErrorOrNil()
		}

		orders, err := next(ctx, after, s.batchSize)
		if err != nil {
			return result, multierror.Append(errs, fmt.Errorf("failed to list orders after %s: %w", after, err)).ErrorOrNil()
		}

		for _, o := range orders {
			after = o.ID
			result.Processed++
			if err := fn(ctx, o.ID); err != nil {
				result.Failed[o.ID] = err.Error()
				errs = multierror.Append(errs, fmt.Errorf("order %s: %w", o.ID, err))
				s.logger.Warn("Tax record computation failed",
					zap.String("order_id", o.ID.String()),
					zap.String("status", o.Status),
					zap.String("code", apperror.Code(err)),
					zap.Error(err))
				continue
			}
			result.Succeeded = append(result.Succeeded, o.ID)
		}

		if len(orders) < s.batchSize {
			return result, errs.ErrorOrNil()
		}
	}
}

// replace recomputes one order and swaps its record in a single transaction.
func (s *taxRecordService) replace(ctx context.Context, orderID uuid.UUID) error {
	const op = "taxrecord.recalculate"

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.FindByIDWithItems(txCtx, orderID)
		if err != nil {
			return lookupErr(err, op, "order "+orderID.String())
		}

		rec, err := s.build(txCtx, order)
		if err != nil {
			return err
		}

		previous, err := s.recordRepo.FindByOrderID(txCtx, orderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to fetch tax record: %w", err)
		}
		if err := s.recordRepo.DeleteByOrderID(txCtx, orderID); err != nil {
			return fmt.Errorf("failed to delete tax record: %w", err)
		}

		stored, created, err := s.recordRepo.InsertOrGet(txCtx, rec)
		if err != nil {
			return fmt.Errorf("failed to save tax record: %w", err)
		}
		if !created {
			return apperror.Errorf(apperror.EDUPLICATE, op, "tax record for order %s was recreated concurrently", orderID)
		}

		details := map[string]interface{}{"new": auditRecordDetails(stored)}
		if previous != nil {
			details["previous"] = auditRecordDetails(previous)
		}
		if err := s.audit.write(txCtx, "", model.ActionRecalculateTax, order.ID.String(), order.OrderNumber, details); err != nil {
			return err
		}
		s.metrics.TaxRecord(stored.CustomerType, "replaced")
		return nil
	})
}

// build runs the full determination for an order without persisting anything.
func (s *taxRecordService) build(ctx context.Context, order *model.Order) (*model.TaxRecord, error) {
	const op = "taxrecord.build"

	if !order.IsTaxable() {
		return nil, apperror.Errorf(apperror.EINVALIDSTATE, op,
			"order %s is %s; tax records are created only for %s orders",
			order.ID, order.Status, strings.Join(model.TaxableOrderStatuses, " or "))
	}
	if order.BillingAddress == nil {
		return nil, apperror.Errorf(apperror.EINVALID, op, "order %s has no billing address", order.ID)
	}
	if s.seller == "" {
		return nil, apperror.Errorf(apperror.ECONFIGURATION, op, "seller VAT number is not configured")
	}

	country := strings.ToUpper(strings.TrimSpace(order.BillingAddress.Country))
	vatNumber := strings.ToUpper(strings.TrimSpace(order.BillingAddress.VatNumber))
	ct := s.classifier.Classify(country, vatNumber)

	lines := make([]vat.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, vat.Line{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Price:      item.Price,
			TotalPrice: item.TotalPrice,
			Category:   categoryTax(item.Product),
		})
	}

	breakdown, err := s.calculator.Calculate(ctx, ct, lines)
	if err != nil {
		return nil, err
	}
	breakdown.AddShipping(ct, vat.ApportionShipping(s.rules, ct, order.ShippingCost))
	if err := breakdown.Check(); err != nil {
		return nil, err
	}

	taxPoint := order.TaxPoint()
	period := vat.ResolvePeriod(taxPoint.In(s.loc))

	return &model.TaxRecord{
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		CustomerType:      string(ct),
		CustomerCountry:   country,
		CustomerVatNumber: vatNumber,

		Subtotal:    breakdown.Subtotal,
		VatAmount:   breakdown.VatAmount,
		TotalAmount: breakdown.Total(),

		StandardVat:      breakdown.StandardVat,
		ReducedVat:       breakdown.ReducedVat,
		SecondReducedVat: breakdown.SecondReducedVat,
		ZeroVat:          breakdown.ZeroVat,
		ExemptAmount:     breakdown.ExemptVat,

		StandardNet:      breakdown.StandardNet,
		ReducedNet:       breakdown.ReducedNet,
		SecondReducedNet: breakdown.SecondReducedNet,
		ZeroNet:          breakdown.ZeroNet,
		ExemptNet:        breakdown.ExemptNet,

		SellerVatNumber: s.seller,
		InvoiceNumber:   "INV-" + order.OrderNumber,
		ReverseCharge:   vat.ReverseCharge(ct),

		TaxPoint:         taxPoint,
		TaxPeriod:        period.Monthly,
		ReportingYear:    period.Year,
		ReportingQuarter: period.Quarter,
		ReportingMonth:   period.Month,
		RulesVersion:     s.rules.Version,
	}, nil
}

func categoryTax(p *model.Product) vat.CategoryTax {
	if p == nil || p.Category == nil {
		return vat.CategoryTax{}
	}
	cat := vat.CategoryTax{
		ID:      p.Category.ID,
		Name:    p.Category.Name,
		VatRate: p.Category.VatRate,
	}
	if p.Category.TaxClass != nil {
		cat.TaxClass = vat.TaxClass(strings.ToUpper(strings.TrimSpace(*p.Category.TaxClass)))
	}
	return cat
}

func auditRecordDetails(rec *model.TaxRecord) map[string]interface{} {
	return map[string]interface{}{
		"customer_type":  rec.CustomerType,
		"subtotal":       rec.Subtotal.String(),
		"vat_amount":     rec.VatAmount.String(),
		"total_amount":   rec.TotalAmount.String(),
		"tax_period":     rec.TaxPeriod,
		"reverse_charge": rec.ReverseCharge,
		"rules_version":  rec.RulesVersion,
	}
}
