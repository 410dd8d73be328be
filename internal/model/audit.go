package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateTaxRecord   = "CREATE_TAX_RECORD"
	ActionRecalculateTax    = "RECALCULATE_TAX_RECORD"
	ActionGenerateTaxReturn = "GENERATE_TAX_RETURN"
	ActionFileTaxReturn     = "FILE_TAX_RETURN"
	ActionUpsertVatRate     = "UPSERT_VAT_RATE"
	ActionDeactivateVatRate = "DEACTIVATE_VAT_RATE"
	ActionAssignTaxClass    = "ASSIGN_TAX_CLASS"
)

// AuditLog tracks Who, What, and When for tax-relevant changes
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(255)" json:"actor"` // empty for scheduled jobs
	Action     string    `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string    `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string    `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string    `gorm:"type:text" json:"details"` // serialized JSON payload of the action
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
