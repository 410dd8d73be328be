package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/vat"
)

// VatRateRepository is the rate registry table. It is also the vat.RateSource
// the registry reads through.
type VatRateRepository interface {
	vat.RateSource
	Create(ctx context.Context, rate *model.VatRate) error
	Update(ctx context.Context, rate *model.VatRate) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.VatRate, error)
	FindActiveForUpdate(ctx context.Context, country, taxClass string) (*model.VatRate, error)
	List(ctx context.Context, country string, activeOnly bool) ([]model.VatRate, error)
}

type vatRateRepository struct {
	db *gorm.DB
}

func NewVatRateRepository(db *gorm.DB) VatRateRepository {
	return &vatRateRepository{db: db}
}

func (r *vatRateRepository) LookupRate(ctx context.Context, country string, class vat.TaxClass) (decimal.Decimal, error) {
	var rate model.VatRate
	err := GetDB(ctx, r.db).
		Where("country = ? AND tax_class = ? AND is_active = ?", country, string(class), true).
		Order("updated_at DESC").
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, vat.ErrRateNotFound
		}
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

func (r *vatRateRepository) Create(ctx context.Context, rate *model.VatRate) error {
	return GetDB(ctx, r.db).Create(rate).Error
}

func (r *vatRateRepository) Update(ctx context.Context, rate *model.VatRate) error {
	return GetDB(ctx, r.db).Save(rate).Error
}

func (r *vatRateRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.VatRate, error) {
	var rate model.VatRate
	if err := GetDB(ctx, r.db).First(&rate, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *vatRateRepository) FindActiveForUpdate(ctx context.Context, country, taxClass string) (*model.VatRate, error) {
	var rate model.VatRate
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("country = ? AND tax_class = ? AND is_active = ?", country, taxClass, true).
		First(&rate).Error; err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *vatRateRepository) List(ctx context.Context, country string, activeOnly bool) ([]model.VatRate, error) {
	var rates []model.VatRate
	query := GetDB(ctx, r.db).Model(&model.VatRate{})
	if country != "" {
		query = query.Where("country = ?", country)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Order("country, tax_class, updated_at DESC").Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}
