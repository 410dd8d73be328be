package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/pkg/money"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTaxRecordRepository_InsertOrGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaxRecordRepository(db)
	orderID := uuid.New()
	at := mustTime("2024-07-15T10:00:00Z")

	first, created, err := repo.InsertOrGet(ctx, taxRecord(orderID, "B2C", at, 10000, 2300))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.InsertOrGet(ctx, taxRecord(orderID, "B2B_IE", at, 5000, 1150))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "B2C", second.CustomerType)
	assert.Equal(t, money.Cents(2300), second.VatAmount)

	var count int64
	require.NoError(t, db.Model(&model.TaxRecord{}).Where("order_id = ?", orderID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTaxRecordRepository_DeleteByOrderID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaxRecordRepository(db)
	orderID := uuid.New()

	_, _, err := repo.InsertOrGet(ctx, taxRecord(orderID, "B2C", mustTime("2024-07-15T10:00:00Z"), 100, 23))
	require.NoError(t, err)
	require.NoError(t, repo.DeleteByOrderID(ctx, orderID))

	_, err = repo.FindByOrderID(ctx, orderID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTaxRecordRepository_SumBetween(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaxRecordRepository(db)

	july := mustTime("2024-07-01T00:00:00Z")
	august := mustTime("2024-08-01T00:00:00Z")

	domestic := taxRecord(uuid.New(), "B2C", july, 10000, 2300)
	reduced := taxRecord(uuid.New(), "B2B_IE", mustTime("2024-07-20T12:00:00Z"), 0, 0)
	reduced.ReducedNet, reduced.ReducedVat = 4000, 540
	reduced.ExemptNet = 500
	reduced.Subtotal, reduced.VatAmount, reduced.TotalAmount = 4500, 540, 5040
	euB2B := taxRecord(uuid.New(), "B2B_EU", mustTime("2024-07-31T23:59:59Z"), 0, 0)
	euB2B.ZeroNet, euB2B.Subtotal, euB2B.TotalAmount = 7000, 7000, 7000
	euB2B.ReverseCharge = true
	euB2C := taxRecord(uuid.New(), "B2C_EU", mustTime("2024-07-10T08:00:00Z"), 2000, 460)
	nextMonth := taxRecord(uuid.New(), "B2C", august, 99999, 22999)

	for _, rec := range []*model.TaxRecord{domestic, reduced, euB2B, euB2C, nextMonth} {
		_, _, err := repo.InsertOrGet(ctx, rec)
		require.NoError(t, err)
	}

	totals, err := repo.SumBetween(ctx, july, august)
	require.NoError(t, err)

	assert.Equal(t, int64(4), totals.RecordCount)
	assert.Equal(t, money.Cents(10000+4500+7000+2000), totals.Subtotal)
	assert.Equal(t, money.Cents(2300+540+460), totals.VatAmount)
	assert.Equal(t, totals.Subtotal+totals.VatAmount, totals.TotalAmount)
	assert.Equal(t, money.Cents(12000), totals.StandardNet)
	assert.Equal(t, money.Cents(2760), totals.StandardVat)
	assert.Equal(t, money.Cents(4000), totals.ReducedNet)
	assert.Equal(t, money.Cents(540), totals.ReducedVat)
	assert.Equal(t, money.Cents(7000), totals.ZeroNet)
	assert.Equal(t, money.Cents(500), totals.ExemptNet)
	assert.Equal(t, money.Cents(7000), totals.EUB2BSales)
	assert.Equal(t, money.Cents(2000), totals.EUB2CSales)
	assert.Equal(t, int64(2), totals.StandardCount)
	assert.Equal(t, int64(1), totals.ReducedCount)
	assert.Equal(t, int64(0), totals.SecondReducedCount)
	assert.Equal(t, int64(1), totals.ZeroCount)
	assert.Equal(t, int64(1), totals.ExemptCount)

	empty, err := repo.SumBetween(ctx, mustTime("2023-01-01T00:00:00Z"), mustTime("2023-02-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, TaxTotals{}, empty)
}

func TestTaxRecordRepository_SumByCustomerType(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaxRecordRepository(db)
	at := mustTime("2024-02-10T00:00:00Z")

	for _, rec := range []*model.TaxRecord{
		taxRecord(uuid.New(), "B2C", at, 1000, 230),
		taxRecord(uuid.New(), "B2C", at, 2000, 460),
		taxRecord(uuid.New(), "B2B_NON_EU", at, 5000, 0),
	} {
		_, _, err := repo.InsertOrGet(ctx, rec)
		require.NoError(t, err)
	}

	rows, err := repo.SumByCustomerType(ctx, mustTime("2024-02-01T00:00:00Z"), mustTime("2024-03-01T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CustomerTypeTotals{CustomerType: "B2B_NON_EU", RecordCount: 1, Subtotal: 5000}, rows[0])
	assert.Equal(t, CustomerTypeTotals{CustomerType: "B2C", RecordCount: 2, Subtotal: 3000, VatAmount: 690}, rows[1])
}
