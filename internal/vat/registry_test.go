package vat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vatledger/engine/internal/apperror"
)

type stubSource struct {
	rates map[string]decimal.Decimal
	calls int
	err   error
}

func (s *stubSource) LookupRate(_ context.Context, country string, class TaxClass) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, s.err
	}
	rate, ok := s.rates[country+"/"+string(class)]
	if !ok {
		return decimal.Zero, ErrRateNotFound
	}
	return rate, nil
}

type mapCache struct {
	entries map[string]decimal.Decimal
	getErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]decimal.Decimal{}}
}

func (c *mapCache) Get(_ context.Context, country string, class TaxClass) (decimal.Decimal, bool, error) {
	if c.getErr != nil {
		return decimal.Zero, false, c.getErr
	}
	rate, ok := c.entries[country+"/"+string(class)]
	return rate, ok, nil
}

func (c *mapCache) Set(_ context.Context, country string, class TaxClass, rate decimal.Decimal) error {
	c.entries[country+"/"+string(class)] = rate
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, country string) error {
	for k := range c.entries {
		if strings.HasPrefix(k, country+"/") {
			delete(c.entries, k)
		}
	}
	return nil
}

func irishSource() *stubSource {
	return &stubSource{rates: map[string]decimal.Decimal{
		"IE/STANDARD":       decimal.NewFromInt(23),
		"IE/REDUCED":        decimal.RequireFromString("13.5"),
		"IE/SECOND_REDUCED": decimal.NewFromInt(9),
		"IE/ZERO":           decimal.Zero,
	}}
}

func pct(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRegistry_RateFor(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(DefaultRules(), irishSource())

	t.Run("tax class resolves through registry", func(t *testing.T) {
		rate, err := reg.RateFor(ctx, CategoryTax{ID: uuid.New(), TaxClass: ClassReduced}, "IE")
		require.NoError(t, err)
		assert.True(t, rate.Percent.Equal(decimal.RequireFromString("13.5")))
		assert.Equal(t, ClassReduced, rate.Class)
		assert.Equal(t, "registry", rate.Source)
	})

	t.Run("tax class wins over legacy percent", func(t *testing.T) {
		rate, err := reg.RateFor(ctx, CategoryTax{TaxClass: ClassSecondReduced, VatRate: pct("23")}, "IE")
		require.NoError(t, err)
		assert.True(t, rate.Percent.Equal(decimal.NewFromInt(9)))
	})

	t.Run("exempt class needs no registry row", func(t *testing.T) {
		rate, err := reg.RateFor(ctx, CategoryTax{TaxClass: ClassExempt}, "IE")
		require.NoError(t, err)
		assert.Equal(t, ClassExempt, rate.Class)
		assert.True(t, rate.Percent.IsZero())
	})

	t.Run("legacy category percent", func(t *testing.T) {
		rate, err := reg.RateFor(ctx, CategoryTax{VatRate: pct("13.5")}, "IE")
		require.NoError(t, err)
		assert.True(t, rate.Percent.Equal(decimal.RequireFromString("13.5")))
		assert.Equal(t, "category", rate.Source)
	})

	t.Run("falls back to country standard rate", func(t *testing.T) {
		rate, err := reg.RateFor(ctx, CategoryTax{}, "ie")
		require.NoError(t, err)
		assert.True(t, rate.Percent.Equal(decimal.NewFromInt(23)))
		assert.Equal(t, "country_default", rate.Source)
	})

	t.Run("unknown country without explicit rate", func(t *testing.T) {
		_, err := reg.RateFor(ctx, CategoryTax{}, "US")
		require.Error(t, err)
		assert.True(t, apperror.IsConfiguration(err))
	})

	t.Run("missing registry row is a configuration error", func(t *testing.T) {
		_, err := reg.RateFor(ctx, CategoryTax{TaxClass: ClassStandard}, "FR")
		require.Error(t, err)
		assert.True(t, apperror.IsConfiguration(err))
	})

	t.Run("negative legacy percent", func(t *testing.T) {
		_, err := reg.RateFor(ctx, CategoryTax{VatRate: pct("-1")}, "IE")
		assert.True(t, apperror.IsConfiguration(err))
	})
}

func TestRegistry_Cache(t *testing.T) {
	ctx := context.Background()
	src := irishSource()
	cache := newMapCache()
	reg := NewRegistry(DefaultRules(), src, WithRateCache(cache))
	cat := CategoryTax{TaxClass: ClassStandard}

	_, err := reg.RateFor(ctx, cat, "IE")
	require.NoError(t, err)
	_, err = reg.RateFor(ctx, cat, "IE")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	// a registry change invalidates the country
	src.rates["IE/STANDARD"] = decimal.NewFromInt(21)
	require.NoError(t, cache.Invalidate(ctx, "IE"))

	rate, err := reg.RateFor(ctx, cat, "IE")
	require.NoError(t, err)
	assert.True(t, rate.Percent.Equal(decimal.NewFromInt(21)))
	assert.Equal(t, 2, src.calls)
}

func TestRegistry_CacheFailureFallsBackToSource(t *testing.T) {
	src := irishSource()
	cache := newMapCache()
	cache.getErr = errors.New("redis down")
	reg := NewRegistry(DefaultRules(), src, WithRateCache(cache))

	rate, err := reg.RateFor(context.Background(), CategoryTax{TaxClass: ClassZero}, "IE")
	require.NoError(t, err)
	assert.True(t, rate.Percent.IsZero())
	assert.Equal(t, 1, src.calls)
}

func TestRegistry_SourceError(t *testing.T) {
	src := &stubSource{err: errors.New("connection refused")}
	reg := NewRegistry(DefaultRules(), src)

	_, err := reg.RateFor(context.Background(), CategoryTax{TaxClass: ClassStandard}, "IE")
	require.Error(t, err)
	assert.False(t, apperror.IsConfiguration(err))
}
