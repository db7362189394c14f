package domain

import "github.com/shopspring/decimal"

// MarketAsset 行情资产，每次轮询整体替换，客户端不做修改
type MarketAsset struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	DisplayName string          `json:"name"`
	Icon        string          `json:"icon"`
	Color       string          `json:"color"`
	Price       decimal.Decimal `json:"price"`
	Change24h   decimal.Decimal `json:"change"`    // 24h 涨跌幅（百分比）
	Volume      string          `json:"volume"`    // 服务端给的展示字符串，例如 "28.5B"
	MarketCap   string          `json:"marketCap"` // 同上
}

// Key 返回资产标识（优先 symbol）
func (a MarketAsset) Key() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.ID
}

// Rising 24h 是否上涨
func (a MarketAsset) Rising() bool {
	return !a.Change24h.IsNegative()
}
