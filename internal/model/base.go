package model

import "github.com/google/uuid"

// ensureID assigns a fresh UUID when the primary key was left empty.
// Ids are generated in Go so the same schema works on Postgres and SQLite.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists the models the engine migrates.
func All() []interface{} {
	return []interface{}{
		&Category{},
		&Product{},
		&Address{},
		&Order{},
		&OrderItem{},
		&VatRate{},
		&TaxRecord{},
		&TaxReturn{},
		&AuditLog{},
	}
}
