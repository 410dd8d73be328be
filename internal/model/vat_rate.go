package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VatRate is a registry row: the percent charged for a tax class in a country.
// At most one active row exists per (country, tax_class).
type VatRate struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string          `gorm:"type:varchar(100);not null" json:"name"`
	Rate        decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"rate"` // percent, e.g. 13.5
	Description string          `gorm:"type:text" json:"description"`
	Country     string          `gorm:"type:varchar(2);not null;index:idx_vat_rates_lookup" json:"country"`
	TaxClass    string          `gorm:"type:varchar(20);not null;index:idx_vat_rates_lookup" json:"tax_class"`
	IsActive    bool            `gorm:"not null;default:true;index:idx_vat_rates_lookup" json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (v *VatRate) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
