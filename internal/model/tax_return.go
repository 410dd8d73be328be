package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vatledger/engine/pkg/money"
)

// TaxReturnStatus constants
const (
	TaxReturnDraft = "DRAFT"
	TaxReturnFiled = "FILED"
)

// TaxReturn aggregates the tax records of one filing period. A DRAFT may be
// regenerated; a FILED return never changes again.
type TaxReturn struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Period     string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_tax_returns_period" json:"period"`
	PeriodType string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_tax_returns_period" json:"period_type"` // MONTHLY, QUARTERLY, ANNUAL
	StartDate  time.Time `gorm:"not null" json:"start_date"`
	EndDate    time.Time `gorm:"not null" json:"end_date"` // exclusive

	TotalSales        money.Cents `gorm:"type:bigint;not null;default:0" json:"total_sales"`
	TotalVatCollected money.Cents `gorm:"type:bigint;not null;default:0" json:"total_vat_collected"`
	TotalVatDue       money.Cents `gorm:"type:bigint;not null;default:0" json:"total_vat_due"`

	StandardNet      money.Cents `gorm:"type:bigint;not null;default:0" json:"standard_net"`
	StandardVat      money.Cents `gorm:"type:bigint;not null;default:0" json:"standard_vat"`
	ReducedNet       money.Cents `gorm:"type:bigint;not null;default:0" json:"reduced_net"`
	ReducedVat       money.Cents `gorm:"type:bigint;not null;default:0" json:"reduced_vat"`
	SecondReducedNet money.Cents `gorm:"type:bigint;not null;default:0" json:"second_reduced_net"`
	SecondReducedVat money.Cents `gorm:"type:bigint;not null;default:0" json:"second_reduced_vat"`
	ZeroNet          money.Cents `gorm:"type:bigint;not null;default:0" json:"zero_net"`
	ExemptNet        money.Cents `gorm:"type:bigint;not null;default:0" json:"exempt_net"`
	EUB2BSales       money.Cents `gorm:"column:eu_b2b_sales;type:bigint;not null;default:0" json:"eu_b2b_sales"`
	EUB2CSales       money.Cents `gorm:"column:eu_b2c_sales;type:bigint;not null;default:0" json:"eu_b2c_sales"`
	RecordCount      int64       `gorm:"not null;default:0" json:"record_count"`

	Status            string     `gorm:"type:varchar(10);not null;default:'DRAFT';index" json:"status"`
	FiledAt           *time.Time `json:"filed_at"`
	FiledBy           string     `gorm:"type:varchar(255)" json:"filed_by"`
	ExternalReference string     `gorm:"type:varchar(255)" json:"external_reference"`
	GeneratedAt       time.Time  `gorm:"not null" json:"generated_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (t *TaxReturn) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
