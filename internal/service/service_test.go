package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vatledger/engine/internal/metrics"
	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
	"github.com/vatledger/engine/pkg/money"
)

var ctx = context.Background()

const sellerVAT = "IE9876543W"

// setupTestDB creates a new SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

type testEnv struct {
	db      *gorm.DB
	rules   vat.Rules
	metrics *metrics.Metrics

	txManager  repository.TransactionManager
	orderRepo  repository.OrderRepository
	recordRepo repository.TaxRecordRepository
	returnRepo repository.TaxReturnRepository
	rateRepo   repository.VatRateRepository
	auditRepo  repository.AuditRepository
	registry   *vat.Registry
}

func newTestEnv(t *testing.T, registryOpts ...vat.RegistryOption) *testEnv {
	db := setupTestDB(t)
	rules := vat.DefaultRules()
	rateRepo := repository.NewVatRateRepository(db)

	return &testEnv{
		db:         db,
		rules:      rules,
		metrics:    metrics.New("test", prometheus.NewRegistry()),
		txManager:  repository.NewTransactionManager(db),
		orderRepo:  repository.NewOrderRepository(db),
		recordRepo: repository.NewTaxRecordRepository(db),
		returnRepo: repository.NewTaxReturnRepository(db),
		rateRepo:   rateRepo,
		auditRepo:  repository.NewAuditRepository(db),
		registry:   vat.NewRegistry(rules, rateRepo, registryOpts...),
	}
}

func (e *testEnv) taxRecordService(cfg TaxRecordConfig) TaxRecordService {
	if cfg.Rules.Version == "" {
		cfg.Rules = e.rules
	}
	if cfg.SellerVatNumber == "" {
		cfg.SellerVatNumber = sellerVAT
	}
	return NewTaxRecordService(cfg, e.txManager, e.orderRepo, e.recordRepo, e.auditRepo, e.registry, WithMetrics(e.metrics))
}

// seedIrishRates registers the home-country rates for the given classes.
func seedIrishRates(t *testing.T, db *gorm.DB, classes ...vat.TaxClass) {
	pct := map[vat.TaxClass]string{
		vat.ClassStandard:      "23",
		vat.ClassReduced:       "13.5",
		vat.ClassSecondReduced: "9",
		vat.ClassZero:          "0",
	}
	for _, c := range classes {
		require.NoError(t, db.Create(&model.VatRate{
			Name:     "IE " + string(c),
			Rate:     decimal.RequireFromString(pct[c]),
			Country:  "IE",
			TaxClass: string(c),
			IsActive: true,
		}).Error)
	}
}

func createCategory(t *testing.T, db *gorm.DB, name string, class vat.TaxClass) *model.Category {
	cat := &model.Category{Name: name}
	if class != "" {
		c := string(class)
		cat.TaxClass = &c
	}
	require.NoError(t, db.Create(cat).Error)
	return cat
}

type orderLine struct {
	cat   *model.Category
	price string
	qty   int
}

type orderFixture struct {
	status      string
	country     string
	vatNumber   string
	shipping    string
	lines       []orderLine
	createdAt   time.Time
	completedAt *time.Time
}

func createOrder(t *testing.T, db *gorm.DB, f orderFixture) *model.Order {
	if f.status == "" {
		f.status = model.OrderStatusDelivered
	}
	if f.country == "" {
		f.country = "IE"
	}
	order := &model.Order{
		OrderNumber:    fmt.Sprintf("ORD-%s", uuid.NewString()[:8]),
		Status:         f.status,
		BillingAddress: &model.Address{Name: "Buyer", Country: f.country, VatNumber: f.vatNumber},
		CreatedAt:      f.createdAt,
		CompletedAt:    f.completedAt,
	}
	if f.shipping != "" {
		order.ShippingCost = money.MustParse(f.shipping)
	}
	for _, l := range f.lines {
		product := &model.Product{SKU: uuid.NewString(), Name: "item"}
		if l.cat != nil {
			product.CategoryID = &l.cat.ID
		}
		require.NoError(t, db.Create(product).Error)
		qty := l.qty
		if qty == 0 {
			qty = 1
		}
		price := money.MustParse(l.price)
		order.Items = append(order.Items, model.OrderItem{
			ProductID:  product.ID,
			Quantity:   qty,
			Price:      price,
			TotalPrice: price * money.Cents(qty),
		})
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// seedRecord stores a tax record directly, bypassing the builder.
func seedRecord(t *testing.T, db *gorm.DB, customerType string, taxPoint time.Time, net, vatAmount string) *model.TaxRecord {
	n, v := money.MustParse(net), money.MustParse(vatAmount)
	rec := &model.TaxRecord{
		OrderID:         uuid.New(),
		OrderNumber:     "ORD-" + uuid.NewString()[:8],
		CustomerType:    customerType,
		CustomerCountry: "IE",
		Subtotal:        n,
		VatAmount:       v,
		TotalAmount:     n + v,
		SellerVatNumber: sellerVAT,
		TaxPoint:        taxPoint,
		TaxPeriod:       taxPoint.Format("2006-01"),
		ReportingYear:   taxPoint.Year(),
		ReportingMonth:  int(taxPoint.Month()),
		RulesVersion:    "test",
	}
	if vat.Taxed(vat.CustomerType(customerType)) {
		rec.StandardNet, rec.StandardVat = n, v
	} else {
		rec.ZeroNet = n
	}
	rec.InvoiceNumber = "INV-" + rec.OrderNumber
	require.NoError(t, db.Create(rec).Error)
	return rec
}

func countRows(t *testing.T, db *gorm.DB, m interface{}, where string, args ...interface{}) int64 {
	var n int64
	q := db.Model(m)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}
