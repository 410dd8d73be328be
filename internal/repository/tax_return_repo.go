package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vatledger/engine/internal/model"
)

type TaxReturnRepository interface {
	// Create inserts a return. It reports false, without error, when the
	// period already has one.
	Create(ctx context.Context, ret *model.TaxReturn) (bool, error)
	Update(ctx context.Context, ret *model.TaxReturn) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.TaxReturn, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.TaxReturn, error)
	FindByPeriodForUpdate(ctx context.Context, period, periodType string) (*model.TaxReturn, error)
	// MarkFiled moves a DRAFT return to FILED. It returns the number of rows
	// changed, which is zero when the return was no longer a draft.
	MarkFiled(ctx context.Context, id uuid.UUID, filedAt time.Time, filedBy, externalRef string) (int64, error)
	List(ctx context.Context, status string, page, limit int) ([]model.TaxReturn, int64, error)
}

type taxReturnRepository struct {
	db *gorm.DB
}

func NewTaxReturnRepository(db *gorm.DB) TaxReturnRepository {
	return &taxReturnRepository{db: db}
}

func (r *taxReturnRepository) Create(ctx context.Context, ret *model.TaxReturn) (bool, error) {
	res := GetDB(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period"}, {Name: "period_type"}},
			DoNothing: true,
		}).
		Create(ret)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Update rewrites a draft. The status guard keeps a filed return untouched
// even if a caller skipped the state check.
func (r *taxReturnRepository) Update(ctx context.Context, ret *model.TaxReturn) error {
	res := GetDB(ctx, r.db).Model(ret).
		Where("status = ?", model.TaxReturnDraft).
		Select("*").Omit("id", "created_at").
		Updates(ret)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *taxReturnRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.TaxReturn, error) {
	var ret model.TaxReturn
	if err := GetDB(ctx, r.db).First(&ret, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *taxReturnRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.TaxReturn, error) {
	var ret model.TaxReturn
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&ret).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *taxReturnRepository) FindByPeriodForUpdate(ctx context.Context, period, periodType string) (*model.TaxReturn, error) {
	var ret model.TaxReturn
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("period = ? AND period_type = ?", period, periodType).First(&ret).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *taxReturnRepository) MarkFiled(ctx context.Context, id uuid.UUID, filedAt time.Time, filedBy, externalRef string) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.TaxReturn{}).
		Where("id = ? AND status = ?", id, model.TaxReturnDraft).
		Updates(map[string]interface{}{
			"status":             model.TaxReturnFiled,
			"filed_at":           filedAt,
			"filed_by":           filedBy,
			"external_reference": externalRef,
		})
	return res.RowsAffected, res.Error
}

func (r *taxReturnRepository) List(ctx context.Context, status string, page, limit int) ([]model.TaxReturn, int64, error) {
	var returns []model.TaxReturn
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.TaxReturn{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Model(&model.TaxReturn{})
	if status != "" {
		fetchQuery = fetchQuery.Where("status = ?", status)
	}
	if err := fetchQuery.Order("start_date desc, period_type").Offset(offset).Limit(limit).Find(&returns).Error; err != nil {
		return nil, 0, err
	}

	return returns, total, nil
}
