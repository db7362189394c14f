package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/pkg/sdk/api"
)

func TestPrintChainInfo(t *testing.T) {
	var buf bytes.Buffer
	printChainInfo(&buf, api.BlockchainInfo{"network": "main", "blockchain": "CryptoChain Network", "height": 42})

	out := buf.String()
	a := strings.Index(out, "blockchain")
	b := strings.Index(out, "height")
	c := strings.Index(out, "network")
	require.True(t, a >= 0 && b >= 0 && c >= 0, out)
	assert.True(t, a < b && b < c, "keys sorted: %s", out)
	assert.Contains(t, out, "CryptoChain Network")

	buf.Reset()
	printChainInfo(&buf, nil)
	assert.Contains(t, buf.String(), "no data")
}

func TestPrintTransaction(t *testing.T) {
	var buf bytes.Buffer
	printTransaction(&buf, &domain.Transaction{
		ID: 7, Kind: domain.TradeKindSell, Symbol: "ETH",
		Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("2280.75"), Total: decimal.RequireFromString("4561.5"),
	})

	out := buf.String()
	assert.Contains(t, out, "Transaction #7")
	assert.Contains(t, out, "ETH")
	assert.Contains(t, out, "+$4,561.50")
}

func TestPrintMarketSingleAsset(t *testing.T) {
	var buf bytes.Buffer
	printMarket(&buf, []domain.MarketAsset{{Symbol: "BTC", DisplayName: "Bitcoin", Price: decimal.NewFromInt(43000)}})
	assert.Contains(t, buf.String(), "Bitcoin")
	assert.Contains(t, buf.String(), "$43,000.00")
}
