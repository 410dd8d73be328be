package vat

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vatledger/engine/internal/apperror"
)

// Bucket is a reporting bucket on tax records and returns.
type Bucket string

const (
	BucketStandard      Bucket = "STANDARD"
	BucketReduced       Bucket = "REDUCED"
	BucketSecondReduced Bucket = "SECOND_REDUCED"
	BucketZero          Bucket = "ZERO"
	BucketExempt        Bucket = "EXEMPT"
)

// RateBuckets holds the percentages that map to each rated bucket.
type RateBuckets struct {
	Standard      decimal.Decimal
	Reduced       decimal.Decimal
	SecondReduced decimal.Decimal
	Zero          decimal.Decimal
}

// Rules is the versioned rule set the classifier and calculators run against.
// Changing EU membership or a bucket rate is a config change, not a code change.
type Rules struct {
	Version          string
	HomeCountry      string
	EUCountries      []string
	Buckets          RateBuckets
	StandardRates    map[string]decimal.Decimal
	SplitEUConsumers bool

	eu map[string]struct{}
}

// Member states that have left the EU. Their presence means the list is stale.
var formerMembers = map[string]struct{}{"GB": {}, "UK": {}}

// DefaultEUCountries are the 27 member states (ISO 3166-1 alpha-2, Greece as GR).
var DefaultEUCountries = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE",
	"IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE",
}

// DefaultRules returns the Irish rule set.
func DefaultRules() Rules {
	r := Rules{
		Version:     "ie-2024.1",
		HomeCountry: "IE",
		EUCountries: append([]string(nil), DefaultEUCountries...),
		Buckets: RateBuckets{
			Standard:      decimal.NewFromInt(23),
			Reduced:       decimal.RequireFromString("13.5"),
			SecondReduced: decimal.NewFromInt(9),
			Zero:          decimal.Zero,
		},
		StandardRates: map[string]decimal.Decimal{
			"IE": decimal.NewFromInt(23),
		},
	}
	r.index()
	return r
}

// Normalize upper-cases codes and rebuilds the membership index. Call after
// building Rules by hand or from configuration.
func (r Rules) Normalize() Rules {
	r.HomeCountry = normalizeCountry(r.HomeCountry)
	codes := make([]string, 0, len(r.EUCountries))
	for _, c := range r.EUCountries {
		if c = normalizeCountry(c); c != "" {
			codes = append(codes, c)
		}
	}
	sort.Strings(codes)
	r.EUCountries = codes

	rates := make(map[string]decimal.Decimal, len(r.StandardRates))
	for c, rate := range r.StandardRates {
		rates[normalizeCountry(c)] = rate
	}
	r.StandardRates = rates
	r.index()
	return r
}

func (r *Rules) index() {
	r.eu = make(map[string]struct{}, len(r.EUCountries))
	for _, c := range r.EUCountries {
		r.eu[c] = struct{}{}
	}
}

// Validate reports a configuration error for rule sets the engine cannot use.
func (r Rules) Validate() error {
	const op = "vat.rules.validate"

	if len(r.HomeCountry) != 2 {
		return apperror.Errorf(apperror.ECONFIGURATION, op, "home country %q is not an ISO-2 code", r.HomeCountry)
	}
	if len(r.EUCountries) == 0 {
		return apperror.Errorf(apperror.ECONFIGURATION, op, "EU country list is empty")
	}
	for _, c := range r.EUCountries {
		if len(c) != 2 {
			return apperror.Errorf(apperror.ECONFIGURATION, op, "EU country %q is not an ISO-2 code", c)
		}
		if _, gone := formerMembers[c]; gone {
			return apperror.Errorf(apperror.ECONFIGURATION, op, "EU country list is stale: %s is no longer a member", c)
		}
	}
	if !r.IsEU(r.HomeCountry) {
		return apperror.Errorf(apperror.ECONFIGURATION, op, "home country %s missing from EU country list", r.HomeCountry)
	}
	if _, ok := r.StandardRates[r.HomeCountry]; !ok {
		return apperror.Errorf(apperror.ECONFIGURATION, op, "no standard rate for home country %s", r.HomeCountry)
	}
	if !r.StandardRates[r.HomeCountry].Equal(r.Buckets.Standard) {
		return apperror.Errorf(apperror.ECONFIGURATION, op, "home standard rate %s differs from standard bucket %s",
			r.StandardRates[r.HomeCountry], r.Buckets.Standard)
	}

	seen := make(map[string]Bucket, 4)
	for _, b := range r.bucketList() {
		if b.rate.IsNegative() {
			return apperror.Errorf(apperror.ECONFIGURATION, op, "bucket %s has negative rate %s", b.bucket, b.rate)
		}
		key := b.rate.String()
		if other, dup := seen[key]; dup {
			return apperror.Errorf(apperror.ECONFIGURATION, op, "buckets %s and %s share rate %s", other, b.bucket, key)
		}
		seen[key] = b.bucket
	}
	return nil
}

type bucketRate struct {
	bucket Bucket
	rate   decimal.Decimal
}

func (r Rules) bucketList() []bucketRate {
	return []bucketRate{
		{BucketStandard, r.Buckets.Standard},
		{BucketReduced, r.Buckets.Reduced},
		{BucketSecondReduced, r.Buckets.SecondReduced},
		{BucketZero, r.Buckets.Zero},
	}
}

// IsEU reports membership of the configured EU set.
func (r Rules) IsEU(country string) bool {
	if r.eu == nil {
		r.index()
	}
	_, ok := r.eu[normalizeCountry(country)]
	return ok
}

// StandardRate returns the configured standard rate for a country.
func (r Rules) StandardRate(country string) (decimal.Decimal, bool) {
	rate, ok := r.StandardRates[normalizeCountry(country)]
	return rate, ok
}

// BucketFor matches a percentage exactly against the bucket set.
func (r Rules) BucketFor(rate decimal.Decimal) (Bucket, error) {
	for _, b := range r.bucketList() {
		if b.rate.Equal(rate) {
			return b.bucket, nil
		}
	}
	return "", apperror.Errorf(apperror.ECONFIGURATION, "vat.bucket",
		"rate %s%% is not one of the configured buckets (rules %s)", rate.String(), r.Version)
}

func normalizeCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
