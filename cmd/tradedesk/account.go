package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/pkg/sdk/api"
)

// readPassword 从终端读取密码（不回显）；非终端输入时按行读取
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type loginCmd struct {
	email string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "log in and remember the session" }
func (*loginCmd) Usage() string {
	return `tradedesk login [-email <email>]

  Logs in interactively. With a vault configured the session credential is
  stored so later commands resume without a password.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.email, "email", "", "account email (defaults to the configured account)")
}

func (c *loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	email := c.email
	if email == "" {
		email = a.cfg.Account.Email
	}
	password := ""
	if email == a.cfg.Account.Email {
		password = a.cfg.Account.Password
	}
	if password == "" {
		if password, err = readPassword("Password: "); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}

	sess, err := a.session.Login(ctx, api.Credentials{Email: email, Password: password})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("Logged in as %s <%s>\n", sess.User.Name, sess.User.Email)
	if a.vault == nil {
		fmt.Println(mutedStyle.Render("No vault configured; the session ends with this command."))
	}
	return subcommands.ExitSuccess
}

type signupCmd struct {
	name  string
	email string
}

func (*signupCmd) Name() string     { return "signup" }
func (*signupCmd) Synopsis() string { return "create an account" }
func (*signupCmd) Usage() string {
	return `tradedesk signup -name <name> -email <email>

  Creates an account (the password is prompted) and keeps the new session.
`
}

func (c *signupCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "display name")
	f.StringVar(&c.email, "email", "", "account email")
}

func (c *signupCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	password, err := readPassword("Password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	sess, err := a.session.Signup(ctx, api.SignupRequest{Name: c.name, Email: c.email, Password: password})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("Welcome, %s. Starting balance: %s\n", sess.User.Name, domain.FormatMoney(sess.User.Balance))
	return subcommands.ExitSuccess
}

type logoutCmd struct{}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "forget the stored session" }
func (*logoutCmd) Usage() string {
	return `tradedesk logout
`
}
func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (*logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(appOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := a.session.Resume(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, mutedStyle.Render(fmt.Sprintf("could not verify stored session: %v", err)))
	}
	a.session.Logout()
	fmt.Println("Logged out")
	return subcommands.ExitSuccess
}

type whoamiCmd struct{}

func (*whoamiCmd) Name() string     { return "whoami" }
func (*whoamiCmd) Synopsis() string { return "show the logged-in user's profile" }
func (*whoamiCmd) Usage() string {
	return `tradedesk whoami
`
}
func (*whoamiCmd) SetFlags(*flag.FlagSet) {}

func (*whoamiCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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
	user, err := a.session.RefreshProfile(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s <%s>\n", user.Name, user.Email)
	fmt.Printf("  Balance %s\n", domain.FormatMoney(user.Balance))
	return subcommands.ExitSuccess
}
