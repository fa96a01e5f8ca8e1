package services

import (
	"context"
	"errors"
	"fmt"
)

// ErrPricingInvalidInput signals bad pricing parameters such as a negative
// items total.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// FlatRateQuoter is a PricingQuoter charging a fixed shipping fee, waived
// above a free-shipping threshold, and a proportional tax on the discounted
// items total. All amounts are minor currency units; the tax rate is in
// basis points (850 == 8.5%).
type FlatRateQuoter struct {
	shippingFee       int64
	freeShippingAbove int64
	taxRateBps        int64
}

// FlatRateQuoterDeps configures a FlatRateQuoter.
type FlatRateQuoterDeps struct {
	ShippingFee       int64
	FreeShippingAbove int64
	TaxRateBps        int64
}

// NewFlatRateQuoter validates the configuration and builds the quoter.
func NewFlatRateQuoter(deps FlatRateQuoterDeps) (*FlatRateQuoter, error) {
	if deps.ShippingFee < 0 {
		return nil, fmt.Errorf("%w: shipping fee must be >= 0", ErrPricingInvalidInput)
	}
	if deps.FreeShippingAbove < 0 {
		return nil, fmt.Errorf("%w: free shipping threshold must be >= 0", ErrPricingInvalidInput)
	}
	if deps.TaxRateBps < 0 || deps.TaxRateBps > 10000 {
		return nil, fmt.Errorf("%w: tax rate must be between 0 and 10000 bps", ErrPricingInvalidInput)
	}
	return &FlatRateQuoter{
		shippingFee:       deps.ShippingFee,
		freeShippingAbove: deps.FreeShippingAbove,
		taxRateBps:        deps.TaxRateBps,
	}, nil
}

// Quote returns the shipping and tax amounts for an order about to be
// committed. The discounted items total drives both charges.
func (q *FlatRateQuoter) Quote(ctx context.Context, itemsPrice, discount int64) (int64, int64, error) {
	if itemsPrice < 0 || discount < 0 || discount > itemsPrice {
		return 0, 0, fmt.Errorf("%w: itemsPrice=%d discount=%d", ErrPricingInvalidInput, itemsPrice, discount)
	}

	taxable := itemsPrice - discount

	shipping := q.shippingFee
	if q.freeShippingAbove > 0 && taxable >= q.freeShippingAbove {
		shipping = 0
	}

	tax := taxable * q.taxRateBps / 10000
	return shipping, tax, nil
}
