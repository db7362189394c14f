package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

// configPath 全局 -config 参数（YAML/JSON），为空时只用默认值 + 环境变量
var configPath string

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&runCmd{}, "")
	commander.Register(&loginCmd{}, "account")
	commander.Register(&signupCmd{}, "account")
	commander.Register(&logoutCmd{}, "account")
	commander.Register(&whoamiCmd{}, "account")
	commander.Register(&marketCmd{}, "market")
	commander.Register(&chainCmd{}, "market")
	commander.Register(&portfolioCmd{}, "market")
	commander.Register(&txCmd{}, "market")
	commander.Register(&buyCmd{}, "trade")
	commander.Register(&sellCmd{}, "trade")

	flag.StringVar(&configPath, "config", "", "config file (.yaml/.yml/.json)")
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
