// Package pricing derives weekly price and audience reach from a screen class.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// Quote is the weekly price and reach of one screen.
type Quote struct {
	Class       domain.ClassTag `json:"class"`
	Weeks       int             `json:"weeks"`
	BasePrice   decimal.Decimal `json:"base_price"`
	Discount    decimal.Decimal `json:"discount"`
	WeeklyPrice decimal.Decimal `json:"weekly_price"`
	WeeklyReach int             `json:"weekly_reach"`
}

var basePrices = map[domain.ClassTag]int64{
	domain.ClassA:  200,
	domain.ClassAB: 180,
	domain.ClassB:  150,
	domain.ClassC:  120,
	domain.ClassD:  100,
	domain.ClassND: 80,
}

var weeklyReach = map[domain.ClassTag]int{
	domain.ClassA:  2000,
	domain.ClassAB: 1800,
	domain.ClassB:  1500,
	domain.ClassC:  1200,
	domain.ClassD:  1000,
	domain.ClassND: 800,
}

// discount tiers, longest first
var tiers = []struct {
	minWeeks int
	rate     decimal.Decimal
}{
	{12, decimal.RequireFromString("0.15")},
	{8, decimal.RequireFromString("0.10")},
	{4, decimal.RequireFromString("0.05")},
}

// DiscountRate returns the duration discount as a fraction of the base price.
func DiscountRate(weeks int) decimal.Decimal {
	for _, t := range tiers {
		if weeks >= t.minWeeks {
			return t.rate
		}
	}
	return decimal.Zero
}

// PriceAndReach prices one screen for a campaign of the given duration.
// Unknown classes are priced as ND.
func PriceAndReach(class domain.ClassTag, weeks int) Quote {
	class = domain.ParseClassTag(string(class))
	base := decimal.NewFromInt(basePrices[class])
	rate := DiscountRate(weeks)
	price := base.Mul(decimal.NewFromInt(1).Sub(rate)).Round(2)

	return Quote{
		Class:       class,
		Weeks:       weeks,
		BasePrice:   base,
		Discount:    rate,
		WeeklyPrice: price,
		WeeklyReach: weeklyReach[class],
	}
}

// Total returns the campaign price of a quote.
func Total(q Quote, weeks int) decimal.Decimal {
	if weeks < 1 {
		weeks = 1
	}
	return q.WeeklyPrice.Mul(decimal.NewFromInt(int64(weeks))).Round(2)
}
