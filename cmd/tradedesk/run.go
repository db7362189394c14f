package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/statusapi"
	"github.com/betbot/tradedesk/pkg/logger"
)

type runCmd struct {
	listen string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "keep the session synchronised and serve the status API" }
func (*runCmd) Usage() string {
	return `tradedesk run [-listen <addr>]

  Resumes the stored session (or logs in with the configured account),
  polls balance, portfolio, transactions and market prices until
  interrupted, and serves the local status API when a listen address is set.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.listen, "listen", "", "status API listen address (overrides status_listen)")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{journal: true, console: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// 登录后自动开始轮询，登出（包括被动登出）后停止并清空
	a.session.Subscribe(a.sync.Listener(ctx))

	listen := a.cfg.StatusListen
	if c.listen != "" {
		listen = c.listen
	}
	if listen != "" {
		api := statusapi.New(statusapi.Deps{
			Session:  a.session,
			State:    a.state,
			Sync:     a.sync,
			Trader:   a.trader,
			Journal:  journalOrNil(a),
			Exchange: a.client,
		})
		if _, err := api.StartAsync(ctx, listen); err != nil {
			fmt.Fprintf(os.Stderr, "status api: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	if err := a.authenticate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	// 登录完成前可能已被动登出（例如首轮同步拿到 401）
	if msg, ok := loggedInMessage(a.session.Current()); ok {
		logger.Info(msg)
	} else {
		logger.Warnf("session ended right after login")
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return subcommands.ExitSuccess
}

func loggedInMessage(sess *domain.Session) (string, bool) {
	if !sess.Active() {
		return "", false
	}
	return fmt.Sprintf("logged in as %s <%s>", sess.User.Name, sess.User.Email), true
}

func journalOrNil(a *app) statusapi.Journal {
	if a.journal == nil {
		return nil
	}
	return a.journal
}
