package domain

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DisplayCurrency 展示货币
const DisplayCurrency = money.USD

// FormatMoney 按货币格式输出金额，例如 $107,500.00
func FormatMoney(amount decimal.Decimal) string {
	cur := money.GetCurrency(DisplayCurrency)
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), DisplayCurrency).Display()
}
