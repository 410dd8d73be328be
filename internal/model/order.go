package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vatledger/engine/pkg/money"
)

// OrderStatus constants
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
)

// TaxableOrderStatuses are the statuses an order must be in to get a tax record.
var TaxableOrderStatuses = []string{OrderStatusDelivered, OrderStatusCompleted}

// IsTaxable reports whether the order has reached a status that creates a tax point.
func (o *Order) IsTaxable() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCompleted
}

// TaxPoint is the completion date, falling back to the creation date.
func (o *Order) TaxPoint() time.Time {
	if o.CompletedAt != nil && !o.CompletedAt.IsZero() {
		return *o.CompletedAt
	}
	return o.CreatedAt
}

// Category is a catalog category. TaxClass is set by administrators; VatRate
// is the legacy denormalized percent used only when no class is set.
type Category struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string           `gorm:"type:varchar(255);not null" json:"name"`
	TaxClass  *string          `gorm:"type:varchar(20);index" json:"tax_class"` // STANDARD, REDUCED, SECOND_REDUCED, ZERO, EXEMPT
	VatRate   *decimal.Decimal `gorm:"type:decimal(5,2)" json:"vat_rate"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (c *Category) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Product represents a catalog item
type Product struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SKU        string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"sku"`
	Name       string     `gorm:"type:varchar(255);not null" json:"name"`
	CategoryID *uuid.UUID `gorm:"type:uuid;index" json:"category_id"`
	Category   *Category  `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Address is a billing address. Only the fields tax determination needs are modelled.
type Address struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Line1     string    `gorm:"type:varchar(255)" json:"line1"`
	City      string    `gorm:"type:varchar(100)" json:"city"`
	Country   string    `gorm:"type:varchar(2);not null" json:"country"`
	VatNumber string    `gorm:"type:varchar(50)" json:"vat_number"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Address) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// Order is a customer order as written by the order store. The engine reads it only.
type Order struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber      string      `gorm:"type:varchar(100);uniqueIndex;not null" json:"order_number"`
	Status           string      `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalAmount      money.Cents `gorm:"type:bigint;not null;default:0" json:"total_amount"`
	ShippingCost     money.Cents `gorm:"type:bigint;not null;default:0" json:"shipping_cost"` // VAT-inclusive
	BillingAddressID *uuid.UUID  `gorm:"type:uuid" json:"billing_address_id"`
	BillingAddress   *Address    `gorm:"foreignKey:BillingAddressID" json:"billing_address,omitempty"`
	Items            []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	CompletedAt      *time.Time  `gorm:"index" json:"completed_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem represents a line item within an Order. Prices are VAT-exclusive.
type OrderItem struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID  uuid.UUID   `gorm:"type:uuid;not null;index" json:"product_id"`
	Product    *Product    `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity   int         `gorm:"type:int;not null" json:"quantity"`
	Price      money.Cents `gorm:"type:bigint;not null" json:"price"`
	TotalPrice money.Cents `gorm:"type:bigint;not null;default:0" json:"total_price"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
