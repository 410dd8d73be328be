package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/pkg/money"
)

// TaxTotals is the sum of all tax records whose tax point falls in a range.
type TaxTotals struct {
	RecordCount int64       `gorm:"column:record_count"`
	Subtotal    money.Cents `gorm:"column:subtotal"`
	VatAmount   money.Cents `gorm:"column:vat_amount"`
	TotalAmount money.Cents `gorm:"column:total_amount"`

	StandardNet      money.Cents `gorm:"column:standard_net"`
	StandardVat      money.Cents `gorm:"column:standard_vat"`
	ReducedNet       money.Cents `gorm:"column:reduced_net"`
	ReducedVat       money.Cents `gorm:"column:reduced_vat"`
	SecondReducedNet money.Cents `gorm:"column:second_reduced_net"`
	SecondReducedVat money.Cents `gorm:"column:second_reduced_vat"`
	ZeroNet          money.Cents `gorm:"column:zero_net"`
	ZeroVat          money.Cents `gorm:"column:zero_vat"`
	ExemptNet        money.Cents `gorm:"column:exempt_net"`
	ExemptAmount     money.Cents `gorm:"column:exempt_amount"`

	EUB2BSales money.Cents `gorm:"column:eu_b2b_sales"`
	EUB2CSales money.Cents `gorm:"column:eu_b2c_sales"`

	// Records with any amount in the bucket.
	StandardCount      int64 `gorm:"column:standard_count"`
	ReducedCount       int64 `gorm:"column:reduced_count"`
	SecondReducedCount int64 `gorm:"column:second_reduced_count"`
	ZeroCount          int64 `gorm:"column:zero_count"`
	ExemptCount        int64 `gorm:"column:exempt_count"`
}

// CustomerTypeTotals groups sales and VAT by customer type.
type CustomerTypeTotals struct {
	CustomerType string      `gorm:"column:customer_type"`
	RecordCount  int64       `gorm:"column:record_count"`
	Subtotal     money.Cents `gorm:"column:subtotal"`
	VatAmount    money.Cents `gorm:"column:vat_amount"`
}

type TaxRecordRepository interface {
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*model.TaxRecord, error)
	// InsertOrGet inserts rec unless a record for the order exists. On conflict
	// the stored record is returned and created is false.
	InsertOrGet(ctx context.Context, rec *model.TaxRecord) (stored *model.TaxRecord, created bool, err error)
	DeleteByOrderID(ctx context.Context, orderID uuid.UUID) error
	SumBetween(ctx context.Context, start, end time.Time) (TaxTotals, error)
	SumByCustomerType(ctx context.Context, start, end time.Time) ([]CustomerTypeTotals, error)
}

type taxRecordRepository struct {
	db *gorm.DB
}

func NewTaxRecordRepository(db *gorm.DB) TaxRecordRepository {
	return &taxRecordRepository{db: db}
}

func (r *taxRecordRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*model.TaxRecord, error) {
	var rec model.TaxRecord
	if err := GetDB(ctx, r.db).First(&rec, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *taxRecordRepository) InsertOrGet(ctx context.Context, rec *model.TaxRecord) (*model.TaxRecord, bool, error) {
	res := GetDB(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := r.FindByOrderID(ctx, rec.OrderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return rec, true, nil
}

func (r *taxRecordRepository) DeleteByOrderID(ctx context.Context, orderID uuid.UUID) error {
	return GetDB(ctx, r.db).Where("order_id = ?", orderID).Delete(&model.TaxRecord{}).Error
}

const taxTotalsSelect = `
	COUNT(*) AS record_count,
	CAST(COALESCE(SUM(subtotal), 0) AS BIGINT) AS subtotal,
	CAST(COALESCE(SUM(vat_amount), 0) AS BIGINT) AS vat_amount,
	CAST(COALESCE(SUM(total_amount), 0) AS BIGINT) AS total_amount,
	CAST(COALESCE(SUM(standard_net), 0) AS BIGINT) AS standard_net,
	CAST(COALESCE(SUM(standard_vat), 0) AS BIGINT) AS standard_vat,
	CAST(COALESCE(SUM(reduced_net), 0) AS BIGINT) AS reduced_net,
	CAST(COALESCE(SUM(reduced_vat), 0) AS BIGINT) AS reduced_vat,
	CAST(COALESCE(SUM(second_reduced_net), 0) AS BIGINT) AS second_reduced_net,
	CAST(COALESCE(SUM(second_reduced_vat), 0) AS BIGINT) AS second_reduced_vat,
	CAST(COALESCE(SUM(zero_net), 0) AS BIGINT) AS zero_net,
	CAST(COALESCE(SUM(zero_vat), 0) AS BIGINT) AS zero_vat,
	CAST(COALESCE(SUM(exempt_net), 0) AS BIGINT) AS exempt_net,
	CAST(COALESCE(SUM(exempt_amount), 0) AS BIGINT) AS exempt_amount,
	CAST(COALESCE(SUM(CASE WHEN customer_type = ? THEN subtotal ELSE 0 END), 0) AS BIGINT) AS eu_b2b_sales,
	CAST(COALESCE(SUM(CASE WHEN customer_type = ? THEN subtotal ELSE 0 END), 0) AS BIGINT) AS eu_b2c_sales,
	COALESCE(SUM(CASE WHEN standard_net <> 0 OR standard_vat <> 0 THEN 1 ELSE 0 END), 0) AS standard_count,
	COALESCE(SUM(CASE WHEN reduced_net <> 0 OR reduced_vat <> 0 THEN 1 ELSE 0 END), 0) AS reduced_count,
	COALESCE(SUM(CASE WHEN second_reduced_net <> 0 OR second_reduced_vat <> 0 THEN 1 ELSE 0 END), 0) AS second_reduced_count,
	COALESCE(SUM(CASE WHEN zero_net <> 0 THEN 1 ELSE 0 END), 0) AS zero_count,
	COALESCE(SUM(CASE WHEN exempt_net <> 0 THEN 1 ELSE 0 END), 0) AS exempt_count`

// SumBetween aggregates records with tax_point in [start, end) in one query.
func (r *taxRecordRepository) SumBetween(ctx context.Context, start, end time.Time) (TaxTotals, error) {
	var totals TaxTotals
	err := GetDB(ctx, r.db).Model(&model.TaxRecord{}).
		Select(taxTotalsSelect, "B2B_EU", "B2C_EU").
		Where("tax_point >= ? AND tax_point < ?", start, end).
		Scan(&totals).Error
	return totals, err
}

func (r *taxRecordRepository) SumByCustomerType(ctx context.Context, start, end time.Time) ([]CustomerTypeTotals, error) {
	var rows []CustomerTypeTotals
	if err := GetDB(ctx, r.db).Model(&model.TaxRecord{}).
		Select(`customer_type, COUNT(*) AS record_count,
			CAST(COALESCE(SUM(subtotal), 0) AS BIGINT) AS subtotal,
			CAST(COALESCE(SUM(vat_amount), 0) AS BIGINT) AS vat_amount`).
		Where("tax_point >= ? AND tax_point < ?", start, end).
		Group("customer_type").
		Order("customer_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
