package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/trade"
	"github.com/betbot/tradedesk/pkg/sdk/api"
)

// stdinConfirm 在终端询问 y/N，默认拒绝
var stdinConfirm = trade.ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
})

func printReceipt(r *api.TradeReceipt) {
	fmt.Println(upStyle.Render(r.Message))
	if tx := r.Transaction; tx != nil {
		fmt.Printf("  %s %s %s @ %s = %s\n", tx.Kind, tx.Quantity, tx.Symbol,
			domain.FormatMoney(tx.UnitPrice), domain.FormatMoney(tx.Total))
	}
	if !r.NewBalance.IsZero() {
		fmt.Printf("  Cash %s\n", domain.FormatMoney(r.NewBalance))
	}
}

type buyCmd struct {
	symbol   string
	quantity string
	yes      bool
}

func (*buyCmd) Name() string     { return "buy" }
func (*buyCmd) Synopsis() string { return "buy a quantity of an asset" }
func (*buyCmd) Usage() string {
	return `tradedesk buy -symbol <SYM> -quantity <amount> [-yes]

  Shows the estimated cost at the latest known price, then submits the order.
  The estimate is informational; the server fills at its own price.
`
}

func (c *buyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "", "asset symbol, e.g. BTC")
	f.StringVar(&c.quantity, "quantity", "", "quantity to buy, e.g. 0.25")
	f.BoolVar(&c.yes, "yes", false, "skip the confirmation prompt")
}

func (c *buyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{journal: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := a.refreshOnce(ctx); err != nil && !a.session.Active() {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	a.trader.Select(c.symbol)
	a.trader.SetQuantity(c.quantity)
	if cost, ok := a.trader.EstimatedCost(); ok {
		fmt.Printf("Estimated cost: %s\n", domain.FormatMoney(cost))
		if !c.yes {
			proceed, _ := stdinConfirm(ctx, fmt.Sprintf("Buy %s %s?", c.quantity, strings.ToUpper(c.symbol)))
			if !proceed {
				fmt.Println("Cancelled")
				return subcommands.ExitSuccess
			}
		}
	}

	receipt, err := a.trader.Buy(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, downStyle.Render(err.Error()))
		return subcommands.ExitFailure
	}
	printReceipt(receipt)
	return subcommands.ExitSuccess
}

type sellCmd struct {
	symbol string
	yes    bool
}

func (*sellCmd) Name() string     { return "sell" }
func (*sellCmd) Synopsis() string { return "sell the entire holding of an asset" }
func (*sellCmd) Usage() string {
	return `tradedesk sell -symbol <SYM> [-yes]

  Sells the whole holding of the asset after confirmation.
`
}

func (c *sellCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "", "asset symbol, e.g. BTC")
	f.BoolVar(&c.yes, "yes", false, "skip the confirmation prompt")
}

func (c *sellCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{journal: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := a.refreshOnce(ctx); err != nil && !a.session.Active() {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	var confirm trade.Confirmer = stdinConfirm
	if c.yes {
		confirm = trade.AlwaysConfirm
	}
	receipt, err := a.trader.Sell(ctx, c.symbol, confirm)
	if err != nil {
		fmt.Fprintln(os.Stderr, downStyle.Render(err.Error()))
		return subcommands.ExitFailure
	}
	printReceipt(receipt)
	return subcommands.ExitSuccess
}
