package domain

import "github.com/shopspring/decimal"

// Balance 账户余额
// Cash 是权威的可用现金；PortfolioValue / TotalAssets 是服务端给的展示汇总
type Balance struct {
	Cash           decimal.Decimal `json:"balance"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalAssets    decimal.Decimal `json:"total_assets"`
}

// Holding 单个币种的持仓
// CurrentValue 以服务端为准，客户端不重新计算
type Holding struct {
	ID               int64           `json:"id"`
	Symbol           string          `json:"crypto_symbol"`
	DisplayName      string          `json:"crypto_name"`
	Quantity         decimal.Decimal `json:"amount"`
	CurrentUnitPrice decimal.Decimal `json:"current_price"`
	CurrentValue     decimal.Decimal `json:"current_value"`
	UpdatedAt        Timestamp       `json:"updated_at"`
}

// Allocation 单个持仓占组合市值的比例（展示用）
type Allocation struct {
	Symbol  string          `json:"symbol"`
	Value   decimal.Decimal `json:"value"`
	Percent decimal.Decimal `json:"percent"`
}

// PortfolioValue 持仓总市值（展示汇总）
func PortfolioValue(holdings []Holding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.CurrentValue)
	}
	return total
}

// Allocations 计算每个持仓的占比，百分比保留一位小数
func Allocations(holdings []Holding) []Allocation {
	total := PortfolioValue(holdings)
	out := make([]Allocation, 0, len(holdings))
	for _, h := range holdings {
		pct := decimal.Zero
		if total.IsPositive() {
			pct = h.CurrentValue.Div(total).Mul(decimal.NewFromInt(100)).Round(1)
		}
		out = append(out, Allocation{Symbol: h.Symbol, Value: h.CurrentValue, Percent: pct})
	}
	return out
}
