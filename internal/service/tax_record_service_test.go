package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
	"github.com/vatledger/engine/pkg/money"
)

func TestCalculateOrderTax_DomesticConsumer(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	order := createOrder(t, env.db, orderFixture{
		shipping: "9.99",
		lines:    []orderLine{{cat: cat, price: "50.00", qty: 2}},
	})

	rec, err := env.taxRecordService(TaxRecordConfig{}).CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, string(vat.CustomerB2C), rec.CustomerType)
	assert.False(t, rec.ReverseCharge)
	// 100.00 @ 23% plus 9.99 shipping with 1.87 VAT included.
	assert.Equal(t, money.MustParse("108.12"), rec.Subtotal)
	assert.Equal(t, money.MustParse("24.87"), rec.VatAmount)
	assert.Equal(t, money.MustParse("132.99"), rec.TotalAmount)
	assert.Equal(t, rec.VatAmount, rec.StandardVat)
	assert.Equal(t, rec.Subtotal, rec.StandardNet)
	assert.Equal(t, "INV-"+order.OrderNumber, rec.InvoiceNumber)
	assert.Equal(t, sellerVAT, rec.SellerVatNumber)
	assert.Equal(t, env.rules.Version, rec.RulesVersion)

	assert.Equal(t, int64(1), countRows(t, env.db, &model.AuditLog{}, "action = ? AND entity_id = ?", model.ActionCreateTaxRecord, order.ID.String()))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TaxRecords.WithLabelValues("B2C", "created")))
}

func TestCalculateOrderTax_MixedBuckets(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassReduced, vat.ClassSecondReduced, vat.ClassZero)
	reduced := createCategory(t, env.db, "Fuel", vat.ClassReduced)
	second := createCategory(t, env.db, "Newspapers", vat.ClassSecondReduced)
	zero := createCategory(t, env.db, "Books", vat.ClassZero)
	exempt := createCategory(t, env.db, "Insurance", vat.ClassExempt)

	order := createOrder(t, env.db, orderFixture{
		vatNumber: "IE1234567T",
		lines: []orderLine{
			{cat: reduced, price: "50.00"},
			{cat: second, price: "10.00"},
			{cat: zero, price: "20.00"},
			{cat: exempt, price: "30.00"},
		},
	})

	rec, err := env.taxRecordService(TaxRecordConfig{}).CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, string(vat.CustomerB2BIE), rec.CustomerType)
	assert.Equal(t, money.MustParse("6.75"), rec.ReducedVat)
	assert.Equal(t, money.MustParse("0.90"), rec.SecondReducedVat)
	assert.Equal(t, money.Cents(0), rec.ZeroVat)
	assert.Equal(t, money.Cents(0), rec.ExemptAmount)
	assert.Equal(t, money.MustParse("20.00"), rec.ZeroNet)
	assert.Equal(t, money.MustParse("30.00"), rec.ExemptNet)
	assert.Equal(t, money.MustParse("110.00"), rec.Subtotal)
	assert.Equal(t, money.MustParse("7.65"), rec.VatAmount)
	assert.Equal(t, money.Sum(rec.StandardVat, rec.ReducedVat, rec.SecondReducedVat, rec.ZeroVat, rec.ExemptAmount), rec.VatAmount)
}

func TestCalculateOrderTax_UntaxedCustomers(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	svc := env.taxRecordService(TaxRecordConfig{})

	tests := []struct {
		name          string
		country       string
		vatNumber     string
		customerType  vat.CustomerType
		reverseCharge bool
	}{
		{"EU business", "DE", "DE123456789", vat.CustomerB2BEU, true},
		{"EU consumer under legacy rules", "FR", "", vat.CustomerB2BEU, true},
		{"outside the EU", "US", "", vat.CustomerB2BNonEU, false},
		{"former member", "GB", "GB123456789", vat.CustomerB2BNonEU, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := createOrder(t, env.db, orderFixture{
				country:   tt.country,
				vatNumber: tt.vatNumber,
				shipping:  "9.99",
				lines:     []orderLine{{cat: cat, price: "100.00"}},
			})

			rec, err := svc.CalculateOrderTax(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, string(tt.customerType), rec.CustomerType)
			assert.Equal(t, tt.reverseCharge, rec.ReverseCharge)
			assert.Equal(t, money.Cents(0), rec.VatAmount)
			assert.Equal(t, money.MustParse("109.99"), rec.Subtotal)
			assert.Equal(t, rec.Subtotal, rec.ZeroNet)
		})
	}
}

func TestCalculateOrderTax_CrossBorderConsumerSplit(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)

	rules := vat.DefaultRules()
	rules.SplitEUConsumers = true
	svc := env.taxRecordService(TaxRecordConfig{Rules: rules})

	order := createOrder(t, env.db, orderFixture{country: "fr", lines: []orderLine{{cat: cat, price: "100.00"}}})
	rec, err := svc.CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, string(vat.CustomerB2CEU), rec.CustomerType)
	assert.Equal(t, "FR", rec.CustomerCountry)
	assert.False(t, rec.ReverseCharge)
	assert.Equal(t, money.MustParse("23.00"), rec.VatAmount)
}

func TestCalculateOrderTax_LegacyCategoryRateAndCountryDefault(t *testing.T) {
	env := newTestEnv(t)
	legacy := createCategory(t, env.db, "Legacy", "")
	pct := money.MustParse("13.5").Decimal()
	require.NoError(t, env.db.Model(legacy).Update("vat_rate", pct).Error)

	order := createOrder(t, env.db, orderFixture{
		lines: []orderLine{
			{cat: legacy, price: "100.00"},
			{cat: nil, price: "10.00"},
		},
	})

	rec, err := env.taxRecordService(TaxRecordConfig{}).CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("13.50"), rec.ReducedVat)
	assert.Equal(t, money.MustParse("2.30"), rec.StandardVat)
}

func TestCalculateOrderTax_ReturnsExistingRecord(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	order := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})
	svc := env.taxRecordService(TaxRecordConfig{})

	first, err := svc.CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)

	// A later rate change must not alter the stored record.
	require.NoError(t, env.db.Model(&model.VatRate{}).Where("tax_class = ?", "STANDARD").Update("rate", "13.5").Error)

	second, err := svc.CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.VatAmount, second.VatAmount)
	assert.Equal(t, int64(1), countRows(t, env.db, &model.TaxRecord{}, ""))
	assert.Equal(t, int64(1), countRows(t, env.db, &model.AuditLog{}, "action = ?", model.ActionCreateTaxRecord))
}

func TestCalculateOrderTax_Errors(t *testing.T) {
	env := newTestEnv(t)
	svc := env.taxRecordService(TaxRecordConfig{})

	t.Run("unknown order", func(t *testing.T) {
		_, err := svc.CalculateOrderTax(ctx, uuid.New())
		assert.True(t, apperror.IsNotFound(err))
	})

	t.Run("order not yet delivered", func(t *testing.T) {
		order := createOrder(t, env.db, orderFixture{status: model.OrderStatusShipped, lines: []orderLine{{price: "10.00"}}})
		_, err := svc.CalculateOrderTax(ctx, order.ID)
		require.Error(t, err)
		assert.True(t, apperror.IsInvalidState(err))
		assert.Contains(t, err.Error(), order.ID.String())
		assert.Contains(t, err.Error(), model.OrderStatusShipped)
		assert.Equal(t, int64(0), countRows(t, env.db, &model.TaxRecord{}, "order_id = ?", order.ID))
	})

	t.Run("class without registry rate", func(t *testing.T) {
		cat := createCategory(t, env.db, "Heating oil", vat.ClassReduced)
		order := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})
		_, err := svc.CalculateOrderTax(ctx, order.ID)
		assert.True(t, apperror.IsConfiguration(err))
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TaxRecordErrors.WithLabelValues(apperror.ECONFIGURATION)))
	})

	t.Run("rate outside the bucket set", func(t *testing.T) {
		odd := createCategory(t, env.db, "Odd", "")
		pct := money.MustParse("7").Decimal()
		require.NoError(t, env.db.Model(odd).Update("vat_rate", pct).Error)
		order := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: odd, price: "10.00"}}})
		_, err := svc.CalculateOrderTax(ctx, order.ID)
		assert.True(t, apperror.IsConfiguration(err))
	})
}

func TestCalculateOrderTax_RequiresSellerVatNumber(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	order := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})

	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewTaxRecordService(TaxRecordConfig{Rules: env.rules, SellerVatNumber: "  "},
		env.txManager, env.orderRepo, env.recordRepo, env.auditRepo, env.registry,
		WithLogger(zap.New(core)), WithMetrics(env.metrics))
	assert.Equal(t, 1, logs.FilterMessageSnippet("Seller VAT number").Len())

	_, err := svc.CalculateOrderTax(ctx, order.ID)
	assert.True(t, apperror.IsConfiguration(err))
	assert.Equal(t, int64(0), countRows(t, env.db, &model.TaxRecord{}, ""))
}

func TestCalculateOrderTax_TaxPoint(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)

	t.Run("completion date wins", func(t *testing.T) {
		completed := date(2024, time.February, 1)
		order := createOrder(t, env.db, orderFixture{
			createdAt:   date(2024, time.January, 31),
			completedAt: &completed,
			lines:       []orderLine{{cat: cat, price: "10.00"}},
		})
		rec, err := env.taxRecordService(TaxRecordConfig{}).CalculateOrderTax(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "2024-02", rec.TaxPeriod)
		assert.Equal(t, 1, rec.ReportingQuarter)
		assert.True(t, rec.TaxPoint.Equal(completed))
	})

	t.Run("falls back to creation date", func(t *testing.T) {
		order := createOrder(t, env.db, orderFixture{
			createdAt: date(2024, time.July, 15),
			lines:     []orderLine{{cat: cat, price: "10.00"}},
		})
		rec, err := env.taxRecordService(TaxRecordConfig{}).CalculateOrderTax(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "2024-07", rec.TaxPeriod)
		assert.Equal(t, 2024, rec.ReportingYear)
		assert.Equal(t, 3, rec.ReportingQuarter)
		assert.Equal(t, 7, rec.ReportingMonth)
	})

	t.Run("period read in the seller's zone", func(t *testing.T) {
		completed := time.Date(2024, time.June, 30, 23, 30, 0, 0, time.UTC)
		order := createOrder(t, env.db, orderFixture{
			completedAt: &completed,
			lines:       []orderLine{{cat: cat, price: "10.00"}},
		})
		svc := env.taxRecordService(TaxRecordConfig{Location: time.FixedZone("IST", 3600)})
		rec, err := svc.CalculateOrderTax(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "2024-07", rec.TaxPeriod)
		assert.Equal(t, 3, rec.ReportingQuarter)
	})
}

// racingRecordRepo hides stored records from the first lookup, so the caller
// goes on to insert as if it had lost a race.
type racingRecordRepo struct {
	repository.TaxRecordRepository
	hidden bool
}

func (r *racingRecordRepo) FindByOrderID(c context.Context, orderID uuid.UUID) (*model.TaxRecord, error) {
	if !r.hidden {
		r.hidden = true
		return nil, gorm.ErrRecordNotFound
	}
	return r.TaxRecordRepository.FindByOrderID(c, orderID)
}

func TestCalculateOrderTax_LosingInsertReturnsWinner(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	order := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})

	winner, err := env.taxRecordService(TaxRecordConfig{}).CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)

	loser := NewTaxRecordService(TaxRecordConfig{Rules: env.rules, SellerVatNumber: sellerVAT},
		env.txManager, env.orderRepo, &racingRecordRepo{TaxRecordRepository: env.recordRepo},
		env.auditRepo, env.registry, WithMetrics(env.metrics))
	got, err := loser.CalculateOrderTax(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, int64(1), countRows(t, env.db, &model.TaxRecord{}, ""))
	assert.Equal(t, int64(1), countRows(t, env.db, &model.AuditLog{}, "action = ?", model.ActionCreateTaxRecord))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TaxRecords.WithLabelValues("B2C", "existing")))
}

func TestCalculateOrderTax_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	order := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})
	svc := env.taxRecordService(TaxRecordConfig{})

	const workers = 8
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := svc.CalculateOrderTax(ctx, order.ID)
			errs[i] = err
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int64(1), countRows(t, env.db, &model.TaxRecord{}, "order_id = ?", order.ID))
}

func TestGetTaxRecord(t *testing.T) {
	env := newTestEnv(t)
	svc := env.taxRecordService(TaxRecordConfig{})

	_, err := svc.GetTaxRecord(ctx, uuid.New())
	assert.True(t, apperror.IsNotFound(err))

	stored := seedRecord(t, env.db, "B2C", date(2024, time.July, 1), "10.00", "2.30")
	got, err := svc.GetTaxRecord(ctx, stored.OrderID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
}

func TestRecalculateAllTaxRecords(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard, vat.ClassReduced)
	cat := createCategory(t, env.db, "Fuel", vat.ClassStandard)
	broken := createCategory(t, env.db, "Newspapers", vat.ClassStandard)
	svc := env.taxRecordService(TaxRecordConfig{BatchSize: 2})

	var orders []*model.Order
	for i := 0; i < 4; i++ {
		o := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "100.00"}}})
		_, err := svc.CalculateOrderTax(ctx, o.ID)
		require.NoError(t, err)
		orders = append(orders, o)
	}
	brokenOrder := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: broken, price: "100.00"}}})
	createOrder(t, env.db, orderFixture{status: model.OrderStatusPending, lines: []orderLine{{cat: cat, price: "100.00"}}})

	// Reclassify: one category moves to a registered class, the other to one
	// with no rate.
	require.NoError(t, env.db.Model(cat).Update("tax_class", "REDUCED").Error)
	require.NoError(t, env.db.Model(broken).Update("tax_class", "SECOND_REDUCED").Error)

	result, err := svc.RecalculateAllTaxRecords(ctx)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.True(t, apperror.IsConfiguration(merr.Errors[0]))

	assert.Equal(t, int64(5), result.Total)
	assert.Equal(t, 5, result.Processed)
	assert.Len(t, result.Succeeded, 4)
	assert.Contains(t, result.Failed, brokenOrder.ID)

	for _, o := range orders {
		rec, err := env.recordRepo.FindByOrderID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, money.MustParse("13.50"), rec.VatAmount)
		assert.Equal(t, money.MustParse("13.50"), rec.ReducedVat)
		assert.Equal(t, money.Cents(0), rec.StandardVat)
	}
	assert.Equal(t, int64(4), countRows(t, env.db, &model.TaxRecord{}, ""))
	assert.Equal(t, int64(4), countRows(t, env.db, &model.AuditLog{}, "action = ?", model.ActionRecalculateTax))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RecomputeOrders.WithLabelValues("recompute", "failed")))
}

func TestRecalculateAllTaxRecords_NothingToDo(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.taxRecordService(TaxRecordConfig{}).RecalculateAllTaxRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, result.Failed)
}

func TestRecalculateAllTaxRecords_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	createOrder(t, env.db, orderFixture{lines: []orderLine{{price: "10.00"}}})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	result, err := env.taxRecordService(TaxRecordConfig{}).RecalculateAllTaxRecords(cancelled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, result.Processed)
}

func TestSweepMissing(t *testing.T) {
	env := newTestEnv(t)
	seedIrishRates(t, env.db, vat.ClassStandard)
	cat := createCategory(t, env.db, "Electronics", vat.ClassStandard)
	svc := env.taxRecordService(TaxRecordConfig{BatchSize: 1})

	done := createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})
	_, err := svc.CalculateOrderTax(ctx, done.ID)
	require.NoError(t, err)

	createOrder(t, env.db, orderFixture{lines: []orderLine{{cat: cat, price: "10.00"}}})
	createOrder(t, env.db, orderFixture{status: model.OrderStatusCompleted, lines: []orderLine{{cat: cat, price: "20.00"}}})
	createOrder(t, env.db, orderFixture{status: model.OrderStatusCancelled, lines: []orderLine{{cat: cat, price: "30.00"}}})

	result, err := svc.SweepMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Len(t, result.Succeeded, 2)
	assert.Equal(t, int64(3), countRows(t, env.db, &model.TaxRecord{}, ""))

	result, err = svc.SweepMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}
