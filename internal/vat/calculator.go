package vat

import (
	"context"

	"github.com/google/uuid"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/pkg/money"
)

// Line is one order line as the calculator sees it. Amounts are VAT-exclusive.
type Line struct {
	ProductID  uuid.UUID
	Quantity   int
	Price      money.Cents
	TotalPrice money.Cents
	Category   CategoryTax
}

// Total returns TotalPrice, or Price × Quantity when no total was stored.
func (l Line) Total() money.Cents {
	if l.TotalPrice != 0 {
		return l.TotalPrice
	}
	return l.Price * money.Cents(l.Quantity)
}

// Breakdown accumulates net and VAT per bucket for one order.
type Breakdown struct {
	Subtotal  money.Cents
	VatAmount money.Cents

	StandardNet      money.Cents
	ReducedNet       money.Cents
	SecondReducedNet money.Cents
	ZeroNet          money.Cents
	ExemptNet        money.Cents

	StandardVat      money.Cents
	ReducedVat       money.Cents
	SecondReducedVat money.Cents
	ZeroVat          money.Cents
	ExemptVat        money.Cents
}

// Add books net and vat into bucket b and the running totals.
func (b *Breakdown) Add(bucket Bucket, net, vat money.Cents) {
	b.Subtotal += net
	b.VatAmount += vat

	switch bucket {
	case BucketStandard:
		b.StandardNet += net
		b.StandardVat += vat
	case BucketReduced:
		b.ReducedNet += net
		b.ReducedVat += vat
	case BucketSecondReduced:
		b.SecondReducedNet += net
		b.SecondReducedVat += vat
	case BucketZero:
		b.ZeroNet += net
		b.ZeroVat += vat
	case BucketExempt:
		b.ExemptNet += net
		b.ExemptVat += vat
	}
}

// Total is subtotal plus VAT.
func (b Breakdown) Total() money.Cents {
	return b.Subtotal + b.VatAmount
}

// Check verifies that the buckets add up to the totals.
func (b Breakdown) Check() error {
	vat := money.Sum(b.StandardVat, b.ReducedVat, b.SecondReducedVat, b.ZeroVat, b.ExemptVat)
	if vat != b.VatAmount {
		return apperror.Errorf(apperror.EINTERNAL, "vat.breakdown.check",
			"VAT buckets sum to %s but VAT amount is %s", vat, b.VatAmount)
	}
	net := money.Sum(b.StandardNet, b.ReducedNet, b.SecondReducedNet, b.ZeroNet, b.ExemptNet)
	if net != b.Subtotal {
		return apperror.Errorf(apperror.EINTERNAL, "vat.breakdown.check",
			"net buckets sum to %s but subtotal is %s", net, b.Subtotal)
	}
	return nil
}

// RateResolver resolves the rate of a category in a country.
type RateResolver interface {
	RateFor(ctx context.Context, cat CategoryTax, country string) (Rate, error)
}

// LineCalculator computes and buckets VAT per order line.
type LineCalculator struct {
	rules Rules
	rates RateResolver
}

func NewLineCalculator(rules Rules, rates RateResolver) *LineCalculator {
	return &LineCalculator{rules: rules, rates: rates}
}

// Calculate books every line of an order. Taxed customer types are charged at
// the home country's rates; everything else is zero-rated.
func (c *LineCalculator) Calculate(ctx context.Context, ct CustomerType, lines []Line) (Breakdown, error) {
	var b Breakdown
	for i := range lines {
		if err := c.book(ctx, &b, ct, lines[i]); err != nil {
			return Breakdown{}, err
		}
	}
	return b, nil
}

func (c *LineCalculator) book(ctx context.Context, b *Breakdown, ct CustomerType, line Line) error {
	total := line.Total()

	if !Taxed(ct) {
		b.Add(BucketZero, total, 0)
		return nil
	}

	rate, err := c.rates.RateFor(ctx, line.Category, c.rules.HomeCountry)
	if err != nil {
		return err
	}
	if rate.Class == ClassExempt {
		b.Add(BucketExempt, total, 0)
		return nil
	}

	bucket, err := c.rules.BucketFor(rate.Percent)
	if err != nil {
		return apperror.Wrap(err, apperror.ECONFIGURATION, "vat.line",
			"product "+line.ProductID.String()+" in category "+line.Category.ID.String())
	}
	b.Add(bucket, total, total.MulPercent(rate.Percent))
	return nil
}

// ShippingSplit is the net/VAT split of a VAT-inclusive shipping charge.
type ShippingSplit struct {
	Net money.Cents
	Vat money.Cents
}

// ApportionShipping extracts standard-rate VAT from a VAT-inclusive shipping
// cost. Untaxed customer types carry the full cost as net.
func ApportionShipping(rules Rules, ct CustomerType, cost money.Cents) ShippingSplit {
	if !Taxed(ct) {
		return ShippingSplit{Net: cost}
	}
	vat := cost.InclusivePart(rules.Buckets.Standard)
	return ShippingSplit{Net: cost - vat, Vat: vat}
}

// AddShipping books a shipping split: standard bucket when taxed, zero-rated otherwise.
func (b *Breakdown) AddShipping(ct CustomerType, s ShippingSplit) {
	if Taxed(ct) {
		b.Add(BucketStandard, s.Net, s.Vat)
		return
	}
	b.Add(BucketZero, s.Net, 0)
}
