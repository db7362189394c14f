package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/marketstate"
	"github.com/betbot/tradedesk/pkg/sdk/api"
)

var (
	// 样式定义
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// column 定宽列，宽度按可见字符计算（忽略 ANSI 转义）
type column struct {
	title string
	width int
	right bool
}

func cell(c column, s string) string {
	st := lipgloss.NewStyle().Width(c.width)
	if c.right {
		st = st.Align(lipgloss.Right)
	}
	return st.Render(s)
}

func printHeader(w io.Writer, cols []column) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = headerStyle.Render(cell(c, c.title))
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

func printRow(w io.Writer, cols []column, values ...string) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = cell(c, values[i])
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

func changeText(change decimal.Decimal) string {
	s := change.StringFixed(2) + "%"
	if !change.IsNegative() {
		return upStyle.Render("+" + s)
	}
	return downStyle.Render(s)
}

var marketColumns = []column{
	{title: "SYMBOL", width: 8},
	{title: "NAME", width: 14},
	{title: "PRICE", width: 14, right: true},
	{title: "24H", width: 9, right: true},
	{title: "VOLUME", width: 9, right: true},
	{title: "MCAP", width: 9, right: true},
}

func printMarket(w io.Writer, assets []domain.MarketAsset) {
	fmt.Fprintln(w, titleStyle.Render("Market"))
	if len(assets) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no assets"))
		return
	}
	printHeader(w, marketColumns)
	for _, a := range assets {
		printRow(w, marketColumns, a.Symbol, a.DisplayName, domain.FormatMoney(a.Price), changeText(a.Change24h), a.Volume, a.MarketCap)
	}
}

var holdingColumns = []column{
	{title: "SYMBOL", width: 8},
	{title: "QUANTITY", width: 14, right: true},
	{title: "PRICE", width: 14, right: true},
	{title: "VALUE", width: 16, right: true},
	{title: "SHARE", width: 7, right: true},
}

var transactionColumns = []column{
	{title: "TIME", width: 17},
	{title: "TYPE", width: 5},
	{title: "SYMBOL", width: 8},
	{title: "QUANTITY", width: 14, right: true},
	{title: "PRICE", width: 14, right: true},
	{title: "TOTAL", width: 16, right: true},
}

func printPortfolio(w io.Writer, snap marketstate.Snapshot, maxTransactions int) {
	fmt.Fprintln(w, titleStyle.Render("Account"))
	fmt.Fprintf(w, "  Cash            %s\n", domain.FormatMoney(snap.Balance.Cash))
	fmt.Fprintf(w, "  Portfolio value %s\n", domain.FormatMoney(snap.PortfolioValue()))
	fmt.Fprintf(w, "  Total assets    %s\n", domain.FormatMoney(snap.TotalAssets()))
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("Holdings"))
	if len(snap.Holdings) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no holdings"))
	} else {
		share := map[string]decimal.Decimal{}
		for _, a := range snap.Allocation() {
			share[a.Symbol] = a.Percent
		}
		printHeader(w, holdingColumns)
		for _, h := range snap.Holdings {
			printRow(w, holdingColumns, h.Symbol, h.Quantity.String(), domain.FormatMoney(h.CurrentUnitPrice),
				domain.FormatMoney(h.CurrentValue), share[h.Symbol].StringFixed(1)+"%")
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("Transactions"))
	if len(snap.Transactions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no transactions"))
		return
	}
	printHeader(w, transactionColumns)
	for i, tx := range snap.Transactions {
		if maxTransactions > 0 && i >= maxTransactions {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  ... %d more", len(snap.Transactions)-i)))
			break
		}
		printTransactionRow(w, tx)
	}
}

func printTransactionRow(w io.Writer, tx domain.Transaction) {
	total := tx.SignedTotal()
	totalText := domain.FormatMoney(total.Abs())
	if total.IsNegative() {
		totalText = downStyle.Render("-" + totalText)
	} else {
		totalText = upStyle.Render("+" + totalText)
	}
	printRow(w, transactionColumns, tx.Timestamp.Local().Format("2006-01-02 15:04"), string(tx.Kind), tx.Symbol,
		tx.Quantity.String(), domain.FormatMoney(tx.UnitPrice), totalText)
}

func printTransaction(w io.Writer, tx *domain.Transaction) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Transaction #%d", tx.ID)))
	printHeader(w, transactionColumns)
	printTransactionRow(w, *tx)
}

// printChainInfo 服务端返回的是任意 JSON 对象，按 key 排序输出
func printChainInfo(w io.Writer, info api.BlockchainInfo) {
	fmt.Fprintln(w, titleStyle.Render("Blockchain"))
	if len(info) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no data"))
		return
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %v\n", k, info[k])
	}
}
