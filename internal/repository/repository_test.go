package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/pkg/money"
)

// setupTestDB creates a new SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func createCategory(t *testing.T, db *gorm.DB, name string, class string, rate string) *model.Category {
	cat := &model.Category{Name: name}
	if class != "" {
		cat.TaxClass = &class
	}
	if rate != "" {
		d := decimal.RequireFromString(rate)
		cat.VatRate = &d
	}
	require.NoError(t, db.Create(cat).Error)
	return cat
}

func createOrder(t *testing.T, db *gorm.DB, status string, cat *model.Category, totals ...string) *model.Order {
	order := &model.Order{
		OrderNumber:    fmt.Sprintf("ORD-%s", uuid.NewString()[:8]),
		Status:         status,
		ShippingCost:   money.MustParse("9.99"),
		BillingAddress: &model.Address{Country: "IE"},
	}
	for _, total := range totals {
		product := &model.Product{SKU: uuid.NewString(), Name: "item"}
		if cat != nil {
			product.CategoryID = &cat.ID
		}
		require.NoError(t, db.Create(product).Error)
		order.Items = append(order.Items, model.OrderItem{
			ProductID:  product.ID,
			Quantity:   1,
			Price:      money.MustParse(total),
			TotalPrice: money.MustParse(total),
		})
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func taxRecord(orderID uuid.UUID, customerType string, taxPoint time.Time, net, vat money.Cents) *model.TaxRecord {
	return &model.TaxRecord{
		OrderID:         orderID,
		OrderNumber:     "ORD-" + orderID.String()[:8],
		CustomerType:    customerType,
		CustomerCountry: "IE",
		Subtotal:        net,
		VatAmount:       vat,
		TotalAmount:     net + vat,
		StandardNet:     net,
		StandardVat:     vat,
		SellerVatNumber: "IE1234567T",
		InvoiceNumber:   "INV-" + orderID.String()[:8],
		TaxPoint:        taxPoint,
		TaxPeriod:       taxPoint.Format("2006-01"),
		ReportingYear:   taxPoint.Year(),
		ReportingMonth:  int(taxPoint.Month()),
		RulesVersion:    "test",
	}
}

var ctx = context.Background()
