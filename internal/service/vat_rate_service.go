package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
)

// --- DTOs ---

type UpsertVatRateRequest struct {
	Country     string `json:"country"`
	TaxClass    string `json:"tax_class"`
	Rate        string `json:"rate"` // percent, e.g. "13.5"
	Name        string `json:"name"`
	Description string `json:"description"`
}

// --- Interface ---

// VatRateService maintains the rate registry. Every write invalidates the
// cached rates of the affected country once the change has committed.
type VatRateService interface {
	UpsertVatRate(ctx context.Context, req UpsertVatRateRequest, actor string) (*model.VatRate, error)
	DeactivateVatRate(ctx context.Context, id uuid.UUID, actor string) error
	ListVatRates(ctx context.Context, country string, activeOnly bool) ([]model.VatRate, error)
}

type vatRateService struct {
	txManager repository.TransactionManager
	rateRepo  repository.VatRateRepository
	cache     vat.RateCache
	rules     vat.Rules
	audit     auditWriter

	options
}

// NewVatRateService creates the registry service. cache may be nil.
func NewVatRateService(
	rules vat.Rules,
	txManager repository.TransactionManager,
	rateRepo repository.VatRateRepository,
	auditRepo repository.AuditRepository,
	cache vat.RateCache,
	opts ...Option,
) VatRateService {
	return &vatRateService{
		txManager: txManager,
		rateRepo:  rateRepo,
		cache:     cache,
		rules:     rules,
		audit:     auditWriter{repo: auditRepo},
		options:   buildOptions(opts),
	}
}

// --- Implementation ---

func (s *vatRateService) UpsertVatRate(ctx context.Context, req UpsertVatRateRequest, actor string) (*model.VatRate, error) {
	const op = "vatrate.upsert"

	country, class, pct, err := s.parseRateRequest(op, req)
	if err != nil {
		return nil, err
	}

	var (
		rate    *model.VatRate
		created bool
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		rate, err = s.rateRepo.FindActiveForUpdate(txCtx, country, string(class))
		switch {
		case err == nil:
			rate.Rate = pct
			if req.Name != "" {
				rate.Name = req.Name
			}
			rate.Description = req.Description
			if err := s.rateRepo.Update(txCtx, rate); err != nil {
				return fmt.Errorf("failed to update vat rate: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			name := req.Name
			if name == "" {
				name = fmt.Sprintf("%s %s", country, class)
			}
			rate = &model.VatRate{
				Name:        name,
				Rate:        pct,
				Description: req.Description,
				Country:     country,
				TaxClass:    string(class),
				IsActive:    true,
			}
			if err := s.rateRepo.Create(txCtx, rate); err != nil {
				return fmt.Errorf("failed to create vat rate: %w", err)
			}
			created = true
		default:
			return fmt.Errorf("failed to fetch vat rate: %w", err)
		}

		return s.audit.write(txCtx, actor, model.ActionUpsertVatRate, rate.ID.String(), rate.Name, map[string]interface{}{
			"country":   country,
			"tax_class": class,
			"rate":      pct.String(),
			"created":   created,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, country)
	s.metrics.RateChange(country, "upsert")
	s.logger.Info("VAT rate saved",
		zap.String("country", country),
		zap.String("tax_class", string(class)),
		zap.String("rate", pct.String()),
		zap.Bool("created", created))
	return rate, nil
}

func (s *vatRateService) parseRateRequest(op string, req UpsertVatRateRequest) (string, vat.TaxClass, decimal.Decimal, error) {
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if len(country) != 2 {
		return "", "", decimal.Zero, apperror.Errorf(apperror.EINVALID, op, "country must be a two-letter code, got %q", req.Country)
	}

	class, err := vat.ParseTaxClass(req.TaxClass)
	if err != nil {
		return "", "", decimal.Zero, err
	}
	if class == vat.ClassExempt {
		return "", "", decimal.Zero, apperror.Errorf(apperror.EINVALID, op, "exempt supplies carry no rate")
	}

	pct, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
	if err != nil {
		return "", "", decimal.Zero, apperror.Errorf(apperror.EINVALID, op, "invalid rate %q", req.Rate)
	}
	if pct.IsNegative() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return "", "", decimal.Zero, apperror.Errorf(apperror.EINVALID, op, "rate %s is out of range", pct)
	}

	// Home-country rates are the ones charged; each must land in a reporting bucket.
	if country == s.rules.HomeCountry {
		if _, err := s.rules.BucketFor(pct); err != nil {
			return "", "", decimal.Zero, apperror.Wrap(err, apperror.EINVALID, op,
				fmt.Sprintf("rate %s is not one of the configured %s rate buckets", pct, country))
		}
	}
	return country, class, pct, nil
}

func (s *vatRateService) DeactivateVatRate(ctx context.Context, id uuid.UUID, actor string) error {
	const op = "vatrate.deactivate"

	var rate *model.VatRate
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		rate, err = s.rateRepo.FindByID(txCtx, id)
		if err != nil {
			return lookupErr(err, op, "vat rate "+id.String())
		}
		if !rate.IsActive {
			return apperror.Errorf(apperror.EINVALIDSTATE, op, "vat rate %s is already inactive", id)
		}

		rate.IsActive = false
		if err := s.rateRepo.Update(txCtx, rate); err != nil {
			return fmt.Errorf("failed to deactivate vat rate: %w", err)
		}
		return s.audit.write(txCtx, actor, model.ActionDeactivateVatRate, rate.ID.String(), rate.Name, map[string]string{
			"country":   rate.Country,
			"tax_class": rate.TaxClass,
			"rate":      rate.Rate.String(),
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, rate.Country)
	s.metrics.RateChange(rate.Country, "deactivate")
	s.logger.Info("VAT rate deactivated",
		zap.String("id", id.String()),
		zap.String("country", rate.Country),
		zap.String("tax_class", rate.TaxClass))
	return nil
}

func (s *vatRateService) ListVatRates(ctx context.Context, country string, activeOnly bool) ([]model.VatRate, error) {
	rates, err := s.rateRepo.List(ctx, strings.ToUpper(strings.TrimSpace(country)), activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list vat rates: %w", err)
	}
	return rates, nil
}

// invalidate drops cached rates for country. A failure leaves stale entries
// until their TTL runs out, so it is logged rather than returned.
func (s *vatRateService) invalidate(ctx context.Context, country string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, country); err != nil {
		s.logger.Error("Failed to invalidate rate cache",
			zap.String("country", country), zap.Error(err))
	}
}
