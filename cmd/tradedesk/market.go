package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/session"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
)

type marketCmd struct {
	symbol string
}

func (*marketCmd) Name() string     { return "market" }
func (*marketCmd) Synopsis() string { return "show current market prices" }
func (*marketCmd) Usage() string {
	return `tradedesk market [-symbol <SYM>]

  Prints the market asset list, or a single asset with -symbol. Does not require a session.
`
}

func (c *marketCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "", "show only this asset")
}

func (c *marketCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{public: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	var assets []domain.MarketAsset
	if c.symbol != "" {
		asset, err := a.client.MarketAsset(ctx, strings.ToUpper(strings.TrimSpace(c.symbol)))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		assets = []domain.MarketAsset{*asset}
	} else if assets, err = a.client.MarketAssets(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	printMarket(os.Stdout, assets)
	return subcommands.ExitSuccess
}

type chainCmd struct{}

func (*chainCmd) Name() string     { return "chain" }
func (*chainCmd) Synopsis() string { return "show blockchain network info" }
func (*chainCmd) Usage() string {
	return `tradedesk chain
`
}
func (*chainCmd) SetFlags(*flag.FlagSet) {}

func (*chainCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{public: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	info, err := a.client.BlockchainInfo(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	printChainInfo(os.Stdout, info)
	return subcommands.ExitSuccess
}

type txCmd struct {
	id int64
}

func (*txCmd) Name() string     { return "tx" }
func (*txCmd) Synopsis() string { return "show a single transaction" }
func (*txCmd) Usage() string {
	return `tradedesk tx -id <n>
`
}

func (c *txCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.id, "id", 0, "transaction id")
}

func (c *txCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.id <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := newApp(appOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := a.authenticate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	token, ok := a.session.Credential()
	if !ok {
		fmt.Fprintln(os.Stderr, session.ErrNotAuthenticated)
		return subcommands.ExitFailure
	}
	tx, err := a.client.Transaction(sdkhttp.WithCredential(ctx, token), c.id)
	if err != nil {
		a.session.HandleAuthFailure(token, err)
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	printTransaction(os.Stdout, tx)
	return subcommands.ExitSuccess
}

type portfolioCmd struct {
	limit int
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "show balance, holdings and recent transactions" }
func (*portfolioCmd) Usage() string {
	return `tradedesk portfolio [-limit <n>]
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "limit", 20, "max transactions to print (0 = all)")
}

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	// 单个读接口失败不影响其他数据展示
	if err := a.refreshOnce(ctx); err != nil {
		if !a.session.Active() {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		fmt.Fprintln(os.Stderr, mutedStyle.Render(fmt.Sprintf("partial refresh: %v", err)))
	}
	printPortfolio(os.Stdout, a.state.Snapshot(), c.limit)
	return subcommands.ExitSuccess
}
