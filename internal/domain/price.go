package domain

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParsePrice reads a display price such as "1000 руб." by keeping its digits.
// A price without digits is zero.
func ParsePrice(price string) decimal.Decimal {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, price)
	if digits == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatPrice renders an amount the way the catalog shows prices.
func FormatPrice(amount decimal.Decimal) string {
	return amount.StringFixedBank(0) + " руб."
}

func (i CartItem) Total() decimal.Decimal {
	return ParsePrice(i.Product.Price).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (c *CartState) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.CartItems {
		total = total.Add(item.Total())
	}
	return total
}

func (c *CartState) ItemCount() int {
	n := 0
	for _, item := range c.CartItems {
		n += item.Quantity
	}
	return n
}
