package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradedesk/internal/domain"
)

// Credentials 登录凭据
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest 注册资料
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse /auth/login 与 /auth/signup 的响应
type AuthResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
}

// TradeRequest 买卖请求体 {crypto_symbol, amount}
type TradeRequest struct {
	Symbol   string
	Quantity decimal.Decimal
}

func (r TradeRequest) MarshalJSON() ([]byte, error) {
	// amount 以 JSON 数字发送，保持十进制精度
	return json.Marshal(struct {
		Symbol string      `json:"crypto_symbol"`
		Amount json.Number `json:"amount"`
	}{
		Symbol: r.Symbol,
		Amount: json.Number(r.Quantity.String()),
	})
}

// TradeReceipt 买卖成功的响应。调用方仍需刷新数据，不以此为准。
type TradeReceipt struct {
	Message     string              `json:"message"`
	Transaction *domain.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
}

// BlockchainInfo /blockchain/info 的展示信息
type BlockchainInfo map[string]any

type profileResponse struct {
	User *domain.User `json:"user"`
}

type marketResponse struct {
	Cryptos []domain.MarketAsset `json:"cryptos"`
}

type portfolioResponse struct {
	Portfolio []domain.Holding `json:"portfolio"`
}

type transactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
}

type transactionResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
}
