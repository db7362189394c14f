package domain

import "github.com/shopspring/decimal"

// TradeKind 交易方向
type TradeKind string

const (
	TradeKindBuy  TradeKind = "BUY"
	TradeKindSell TradeKind = "SELL"
)

// Transaction 成交记录（不可变，服务端按时间倒序返回）
type Transaction struct {
	ID          int64           `json:"id"`
	Kind        TradeKind       `json:"type"`
	DisplayName string          `json:"crypto"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"amount"`
	UnitPrice   decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
	Timestamp   Timestamp       `json:"timestamp"`
}

// SignedTotal 对现金的影响：买入为负，卖出为正
func (t Transaction) SignedTotal() decimal.Decimal {
	if t.Kind == TradeKindBuy {
		return t.Total.Neg()
	}
	return t.Total
}
