package vat

import "strings"

// CustomerType is the buyer's tax class.
type CustomerType string

const (
	CustomerB2C      CustomerType = "B2C"
	CustomerB2BIE    CustomerType = "B2B_IE"
	CustomerB2BEU    CustomerType = "B2B_EU"
	CustomerB2BNonEU CustomerType = "B2B_NON_EU"
	// CustomerB2CEU is a consumer in another member state. Only produced when
	// Rules.SplitEUConsumers is set.
	CustomerB2CEU CustomerType = "B2C_EU"
)

// Classifier derives the customer type from billing country and VAT number.
type Classifier struct {
	rules Rules
}

func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the customer type. An empty or blank vatNumber counts as absent.
func (c *Classifier) Classify(country, vatNumber string) CustomerType {
	country = normalizeCountry(country)
	hasVAT := strings.TrimSpace(vatNumber) != ""

	switch {
	case country == c.rules.HomeCountry:
		if hasVAT {
			return CustomerB2BIE
		}
		return CustomerB2C
	case c.rules.IsEU(country):
		if c.rules.SplitEUConsumers && !hasVAT {
			return CustomerB2CEU
		}
		return CustomerB2BEU
	default:
		return CustomerB2BNonEU
	}
}

// ReverseCharge is true only for intra-community B2B supplies.
func ReverseCharge(t CustomerType) bool {
	return t == CustomerB2BEU
}

// Taxed reports whether VAT is charged at point of sale for the customer type.
func Taxed(t CustomerType) bool {
	switch t {
	case CustomerB2C, CustomerB2BIE, CustomerB2CEU:
		return true
	default:
		return false
	}
}

// Valid reports whether t is a known customer type.
func (t CustomerType) Valid() bool {
	switch t {
	case CustomerB2C, CustomerB2BIE, CustomerB2BEU, CustomerB2BNonEU, CustomerB2CEU:
		return true
	}
	return false
}
