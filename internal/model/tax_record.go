package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vatledger/engine/pkg/money"
)

// TaxRecord is the immutable tax determination of one order. VAT buckets sum
// to VatAmount and net buckets sum to Subtotal.
type TaxRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	OrderNumber       string    `gorm:"type:varchar(100);not null" json:"order_number"`
	CustomerType      string    `gorm:"type:varchar(20);not null;index" json:"customer_type"` // B2C, B2B_IE, B2B_EU, B2B_NON_EU, B2C_EU
	CustomerCountry   string    `gorm:"type:varchar(2);not null" json:"customer_country"`
	CustomerVatNumber string    `gorm:"type:varchar(50)" json:"customer_vat_number"`

	Subtotal    money.Cents `gorm:"type:bigint;not null" json:"subtotal"`
	VatAmount   money.Cents `gorm:"type:bigint;not null" json:"vat_amount"`
	TotalAmount money.Cents `gorm:"type:bigint;not null" json:"total_amount"`

	StandardVat      money.Cents `gorm:"type:bigint;not null;default:0" json:"standard_vat"`
	ReducedVat       money.Cents `gorm:"type:bigint;not null;default:0" json:"reduced_vat"`
	SecondReducedVat money.Cents `gorm:"type:bigint;not null;default:0" json:"second_reduced_vat"`
	ZeroVat          money.Cents `gorm:"type:bigint;not null;default:0" json:"zero_vat"`
	ExemptAmount     money.Cents `gorm:"type:bigint;not null;default:0" json:"exempt_amount"` // VAT on exempt supplies, always 0

	StandardNet      money.Cents `gorm:"type:bigint;not null;default:0" json:"standard_net"`
	ReducedNet       money.Cents `gorm:"type:bigint;not null;default:0" json:"reduced_net"`
	SecondReducedNet money.Cents `gorm:"type:bigint;not null;default:0" json:"second_reduced_net"`
	ZeroNet          money.Cents `gorm:"type:bigint;not null;default:0" json:"zero_net"`
	ExemptNet        money.Cents `gorm:"type:bigint;not null;default:0" json:"exempt_net"`

	SellerVatNumber string `gorm:"type:varchar(50);not null" json:"seller_vat_number"`
	InvoiceNumber   string `gorm:"type:varchar(120);not null" json:"invoice_number"`
	ReverseCharge   bool   `gorm:"not null;default:false" json:"reverse_charge"`

	TaxPoint         time.Time `gorm:"not null;index" json:"tax_point"`
	TaxPeriod        string    `gorm:"type:varchar(10);not null;index" json:"tax_period"` // YYYY-MM
	ReportingYear    int       `gorm:"not null" json:"reporting_year"`
	ReportingQuarter int       `gorm:"not null" json:"reporting_quarter"`
	ReportingMonth   int       `gorm:"not null" json:"reporting_month"`
	RulesVersion     string    `gorm:"type:varchar(50);not null" json:"rules_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *TaxRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
