package vat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vatledger/engine/internal/apperror"
)

// TaxClass is the administrator-set tax treatment of a category.
type TaxClass string

const (
	ClassStandard      TaxClass = "STANDARD"
	ClassReduced       TaxClass = "REDUCED"
	ClassSecondReduced TaxClass = "SECOND_REDUCED"
	ClassZero          TaxClass = "ZERO"
	ClassExempt        TaxClass = "EXEMPT"
)

// ParseTaxClass accepts the class case-insensitively.
func ParseTaxClass(s string) (TaxClass, error) {
	switch c := TaxClass(strings.ToUpper(strings.TrimSpace(s))); c {
	case ClassStandard, ClassReduced, ClassSecondReduced, ClassZero, ClassExempt:
		return c, nil
	}
	return "", apperror.Errorf(apperror.EINVALID, "vat.taxclass", "unknown tax class %q", s)
}

// CategoryTax is the part of a catalog category the engine reads.
type CategoryTax struct {
	ID       uuid.UUID
	Name     string
	TaxClass TaxClass         // empty when not yet classified
	VatRate  *decimal.Decimal // legacy denormalized percent
}

// Rate is a resolved VAT rate.
type Rate struct {
	Percent decimal.Decimal
	Class   TaxClass // empty when the rate came from a legacy percent
	Source  string   // "registry", "category", "country_default"
}

// ErrRateNotFound is returned by a RateSource with no active row.
var ErrRateNotFound = errors.New("vat rate not found")

// RateSource looks up the active registry rate for a country and class.
type RateSource interface {
	LookupRate(ctx context.Context, country string, class TaxClass) (decimal.Decimal, error)
}

// RateCache caches registry lookups. Implementations must drop every entry of
// a country on Invalidate; writers call it after each registry change.
type RateCache interface {
	Get(ctx context.Context, country string, class TaxClass) (decimal.Decimal, bool, error)
	Set(ctx context.Context, country string, class TaxClass, rate decimal.Decimal) error
	Invalidate(ctx context.Context, country string) error
}

// Registry resolves the VAT rate of a category.
type Registry struct {
	rules  Rules
	source RateSource
	cache  RateCache
	logger *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRateCache puts a cache in front of the rate source.
func WithRateCache(c RateCache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

func NewRegistry(rules Rules, source RateSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		rules:  rules,
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RateFor resolves in order: the category's tax class against the registry,
// the category's explicit percent, then the country's standard rate.
func (r *Registry) RateFor(ctx context.Context, cat CategoryTax, country string) (Rate, error) {
	const op = "vat.registry.rate_for"
	country = normalizeCountry(country)

	if cat.TaxClass != "" {
		if cat.TaxClass == ClassExempt {
			return Rate{Percent: decimal.Zero, Class: ClassExempt, Source: "registry"}, nil
		}
		pct, err := r.lookup(ctx, country, cat.TaxClass)
		if err != nil {
			if errors.Is(err, ErrRateNotFound) {
				return Rate{}, apperror.Errorf(apperror.ECONFIGURATION, op,
					"no active %s rate registered for %s (category %s)", cat.TaxClass, country, cat.ID)
			}
			return Rate{}, err
		}
		return Rate{Percent: pct, Class: cat.TaxClass, Source: "registry"}, nil
	}

	if cat.VatRate != nil {
		if cat.VatRate.IsNegative() {
			return Rate{}, apperror.Errorf(apperror.ECONFIGURATION, op,
				"category %s has negative rate %s", cat.ID, cat.VatRate.String())
		}
		return Rate{Percent: *cat.VatRate, Source: "category"}, nil
	}

	pct, ok := r.rules.StandardRate(country)
	if !ok {
		return Rate{}, apperror.Errorf(apperror.ECONFIGURATION, op, "no standard rate configured for %s", country)
	}
	return Rate{Percent: pct, Class: ClassStandard, Source: "country_default"}, nil
}

func (r *Registry) lookup(ctx context.Context, country string, class TaxClass) (decimal.Decimal, error) {
	if r.cache != nil {
		pct, ok, err := r.cache.Get(ctx, country, class)
		if err != nil {
			r.logger.Warn("Rate cache read failed, using source",
				zap.String("country", country), zap.String("class", string(class)), zap.Error(err))
		} else if ok {
			return pct, nil
		}
	}

	if r.source == nil {
		return decimal.Zero, ErrRateNotFound
	}
	pct, err := r.source.LookupRate(ctx, country, class)
	if err != nil {
		return decimal.Zero, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, country, class, pct); err != nil {
			r.logger.Warn("Rate cache write failed",
				zap.String("country", country), zap.String("class", string(class)), zap.Error(err))
		}
	}
	return pct, nil
}
