package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
	"github.com/vatledger/engine/pkg/pagination"
)

// Lifecycle triggers of a tax return.
const (
	triggerRegenerate = "regenerate"
	triggerFile       = "file"
)

// --- Interface ---

type TaxReturnService interface {
	// GenerateTaxReturn aggregates the records with a tax point in [start, end)
	// into the DRAFT return of that period. The range must be exactly one
	// period of periodType.
	GenerateTaxReturn(ctx context.Context, periodType vat.PeriodType, start, end time.Time) (*model.TaxReturn, error)
	// FileTaxReturn moves a DRAFT return to FILED. A filed return never changes again.
	FileTaxReturn(ctx context.Context, id uuid.UUID, filedBy, externalRef string) (*model.TaxReturn, error)
	GetTaxReturn(ctx context.Context, id uuid.UUID) (*model.TaxReturn, error)
	ListTaxReturns(ctx context.Context, status string, page, limit int) ([]model.TaxReturn, int64, error)
}

type taxReturnService struct {
	txManager  repository.TransactionManager
	recordRepo repository.TaxRecordRepository
	returnRepo repository.TaxReturnRepository
	audit      auditWriter

	options
}

func NewTaxReturnService(
	txManager repository.TransactionManager,
	recordRepo repository.TaxRecordRepository,
	returnRepo repository.TaxReturnRepository,
	auditRepo repository.AuditRepository,
	opts ...Option,
) TaxReturnService {
	return &taxReturnService{
		txManager:  txManager,
		recordRepo: recordRepo,
		returnRepo: returnRepo,
		audit:      auditWriter{repo: auditRepo},
		options:    buildOptions(opts),
	}
}

// returnLifecycle builds the DRAFT -> FILED machine for a return in its
// current status. onFile runs on entry to FILED; its error aborts the transition.
func returnLifecycle(ret *model.TaxReturn, onFile stateless.ActionFunc) *stateless.StateMachine {
	machine := stateless.NewStateMachine(ret.Status)

	machine.Configure(model.TaxReturnDraft).
		Permit(triggerFile, model.TaxReturnFiled).
		PermitReentry(triggerRegenerate)

	filed := machine.Configure(model.TaxReturnFiled)
	if onFile != nil {
		filed.OnEntryFrom(triggerFile, onFile)
	}

	machine.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return apperror.Errorf(apperror.EINVALIDSTATE, "taxreturn.lifecycle",
			"tax return %s for %s is %v and cannot %v", ret.ID, ret.Period, state, trigger)
	})
	return machine
}

// --- Implementation ---

func (s *taxReturnService) GenerateTaxReturn(ctx context.Context, periodType vat.PeriodType, start, end time.Time) (*model.TaxReturn, error) {
	const op = "taxreturn.generate"

	periodType, err := vat.ParsePeriodType(string(periodType))
	if err != nil {
		return nil, err
	}
	if err := validateRange(op, start, end); err != nil {
		return nil, err
	}
	wantStart, wantEnd := vat.PeriodBounds(periodType, start)
	if !start.Equal(wantStart) || !end.Equal(wantEnd) {
		return nil, apperror.Errorf(apperror.EINVALID, op,
			"range %s to %s is not a single %s period (expected %s to %s)",
			start.Format(time.RFC3339), end.Format(time.RFC3339), periodType,
			wantStart.Format(time.RFC3339), wantEnd.Format(time.RFC3339))
	}
	label := vat.ResolvePeriod(start).Label(periodType)

	// A concurrent first generation may insert the period between our lookup
	// and insert. The retry then finds its draft and regenerates it.
	var (
		ret     *model.TaxReturn
		created bool
	)
	for attempt := 1; ; attempt++ {
		ret, created, err = s.generate(ctx, periodType, label, start, end)
		if err == nil || !apperror.IsCode(err, apperror.EDUPLICATE) || attempt == 2 {
			break
		}
		s.logger.Debug("Tax return inserted concurrently, regenerating",
			zap.String("period", label), zap.String("period_type", string(periodType)))
	}
	if err != nil {
		return nil, err
	}

	s.metrics.TaxReturn(string(periodType), "generated")
	s.logger.Info("Tax return generated",
		zap.String("period", label),
		zap.String("period_type", string(periodType)),
		zap.Bool("created", created),
		zap.Int64("records", ret.RecordCount),
		zap.String("vat_due", ret.TotalVatDue.String()))
	return ret, nil
}

func (s *taxReturnService) generate(ctx context.Context, periodType vat.PeriodType, label string, start, end time.Time) (*model.TaxReturn, bool, error) {
	const op = "taxreturn.generate"

	var (
		ret     *model.TaxReturn
		created bool
	)
	err := s.txManager.RunInSnapshotTx(ctx, func(txCtx context.Context) error {
		totals, err := s.recordRepo.SumBetween(txCtx, start, end)
		if err != nil {
			return fmt.Errorf("failed to aggregate tax records: %w", err)
		}

		ret, err = s.returnRepo.FindByPeriodForUpdate(txCtx, label, string(periodType))
		switch {
		case err == nil:
			if err := returnLifecycle(ret, nil).FireCtx(txCtx, triggerRegenerate); err != nil {
				return err
			}
			applyTotals(ret, totals)
			ret.GeneratedAt = s.now()
			if err := s.returnRepo.Update(txCtx, ret); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperror.Errorf(apperror.EINVALIDSTATE, op, "tax return for %s was filed during regeneration", label)
				}
				return fmt.Errorf("failed to update tax return: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			ret = &model.TaxReturn{
				Period:      label,
				PeriodType:  string(periodType),
				StartDate:   start,
				EndDate:     end,
				Status:      model.TaxReturnDraft,
				GeneratedAt: s.now(),
			}
			applyTotals(ret, totals)
			ok, err := s.returnRepo.Create(txCtx, ret)
			if err != nil {
				return fmt.Errorf("failed to create tax return: %w", err)
			}
			if !ok {
				return apperror.Errorf(apperror.EDUPLICATE, op, "tax return for %s %s was created concurrently", periodType, label)
			}
			created = true
		default:
			return fmt.Errorf("failed to fetch tax return: %w", err)
		}

		return s.audit.write(txCtx, "", model.ActionGenerateTaxReturn, ret.ID.String(), label, map[string]interface{}{
			"period_type":   ret.PeriodType,
			"record_count":  ret.RecordCount,
			"total_sales":   ret.TotalSales.String(),
			"total_vat_due": ret.TotalVatDue.String(),
			"created":       created,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return ret, created, nil
}

func applyTotals(ret *model.TaxReturn, t repository.TaxTotals) {
	ret.TotalSales = t.Subtotal
	ret.TotalVatCollected = t.VatAmount
	// Reverse-charged and zero-rated supplies carry no VAT, so everything
	// collected is due.
	ret.TotalVatDue = t.VatAmount

	ret.StandardNet = t.StandardNet
	ret.StandardVat = t.StandardVat
	ret.ReducedNet = t.ReducedNet
	ret.ReducedVat = t.ReducedVat
	ret.SecondReducedNet = t.SecondReducedNet
	ret.SecondReducedVat = t.SecondReducedVat
	ret.ZeroNet = t.ZeroNet
	ret.ExemptNet = t.ExemptNet
	ret.EUB2BSales = t.EUB2BSales
	ret.EUB2CSales = t.EUB2CSales
	ret.RecordCount = t.RecordCount
}

func (s *taxReturnService) FileTaxReturn(ctx context.Context, id uuid.UUID, filedBy, externalRef string) (*model.TaxReturn, error) {
	const op = "taxreturn.file"

	if filedBy == "" {
		return nil, apperror.Errorf(apperror.EINVALID, op, "filed by is required")
	}

	var ret *model.TaxReturn
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		ret, err = s.returnRepo.FindByIDForUpdate(txCtx, id)
		if err != nil {
			return lookupErr(err, op, "tax return "+id.String())
		}

		filedAt := s.now()
		markFiled := func(ctx context.Context, _ ...any) error {
			rows, err := s.returnRepo.MarkFiled(ctx, id, filedAt, filedBy, externalRef)
			if err != nil {
				return fmt.Errorf("failed to file tax return: %w", err)
			}
			// SQLite has no row locks; the status guard still rejects a second filer.
			if rows == 0 {
				return apperror.Errorf(apperror.EINVALIDSTATE, op, "tax return %s was already filed", id)
			}
			return nil
		}
		if err := returnLifecycle(ret, markFiled).FireCtx(txCtx, triggerFile); err != nil {
			return err
		}

		ret.Status = model.TaxReturnFiled
		ret.FiledAt = &filedAt
		ret.FiledBy = filedBy
		ret.ExternalReference = externalRef

		return s.audit.write(txCtx, filedBy, model.ActionFileTaxReturn, id.String(), ret.Period, map[string]interface{}{
			"period_type":        ret.PeriodType,
			"external_reference": externalRef,
			"total_vat_due":      ret.TotalVatDue.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TaxReturn(ret.PeriodType, "filed")
	s.logger.Info("Tax return filed",
		zap.String("id", id.String()),
		zap.String("period", ret.Period),
		zap.String("filed_by", filedBy))
	return ret, nil
}

func (s *taxReturnService) GetTaxReturn(ctx context.Context, id uuid.UUID) (*model.TaxReturn, error) {
	ret, err := s.returnRepo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "taxreturn.get", "tax return "+id.String())
	}
	return ret, nil
}

func (s *taxReturnService) ListTaxReturns(ctx context.Context, status string, page, limit int) ([]model.TaxReturn, int64, error) {
	if status != "" && status != model.TaxReturnDraft && status != model.TaxReturnFiled {
		return nil, 0, apperror.Errorf(apperror.EINVALID, "taxreturn.list", "unknown status %q", status)
	}
	p := pagination.New(page, limit)
	returns, total, err := s.returnRepo.List(ctx, status, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tax returns: %w", err)
	}
	return returns, total, nil
}
