package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/model"
)

// OrderRepository reads the order store. The engine never writes orders
// outside of tests and fixtures.
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Order, error)
	// ListTaxableAfter pages through DELIVERED/COMPLETED orders by id.
	ListTaxableAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]model.Order, error)
	// ListTaxableWithoutRecordAfter pages through taxable orders that have no tax record yet.
	ListTaxableWithoutRecordAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]model.Order, error)
	CountTaxable(ctx context.Context) (int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Create(order).Error
}

func (r *orderRepository) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Items.Product").
		Preload("Items.Product.Category").
		Preload("BillingAddress").
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListTaxableAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]model.Order, error) {
	var orders []model.Order
	if err := GetDB(ctx, r.db).
		Where("status IN ? AND id > ?", model.TaxableOrderStatuses, afterID).
		Order("id").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) ListTaxableWithoutRecordAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]model.Order, error) {
	var orders []model.Order
	if err := GetDB(ctx, r.db).
		Where("status IN ? AND id > ?", model.TaxableOrderStatuses, afterID).
		Where("NOT EXISTS (SELECT 1 FROM tax_records tr WHERE tr.order_id = orders.id)").
		Order("id").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) CountTaxable(ctx context.Context) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Order{}).
		Where("status IN ?", model.TaxableOrderStatuses).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
