package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/tradedesk/internal/journal"
	"github.com/betbot/tradedesk/internal/marketstate"
	"github.com/betbot/tradedesk/internal/session"
	"github.com/betbot/tradedesk/internal/synchronizer"
	"github.com/betbot/tradedesk/internal/trade"
	"github.com/betbot/tradedesk/pkg/config"
	"github.com/betbot/tradedesk/pkg/logger"
	"github.com/betbot/tradedesk/pkg/sdk/api"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
	"github.com/betbot/tradedesk/pkg/secretstore"
	"github.com/betbot/tradedesk/pkg/shutdown"
)

var errNoCredentials = errors.New("not logged in: run `tradedesk login` or set TRADEDESK_EMAIL and TRADEDESK_PASSWORD")

// app 把各组件按依赖顺序组装起来，所有子命令共用
type app struct {
	cfg      *config.Config
	vault    *secretstore.Store
	client   *api.Client
	session  *session.Store
	state    *marketstate.State
	sync     *synchronizer.Synchronizer
	journal  *journal.Journal
	trader   *trade.Executor
	shutdown *shutdown.Manager
}

type appOptions struct {
	journal bool // 交易类命令才打开 journal
	console bool // 日志同时输出到终端（run）；其他命令只写文件，避免打乱输出
	public  bool // 只调用公开接口，不打开 vault
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		Quiet:      !opts.console,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, state: marketstate.New(), shutdown: shutdown.NewManager()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var vault session.Vault
	if cfg.Vault.Path != "" && !opts.public {
		key, err := secretstore.ParseKey(cfg.Vault.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("vault key: %w", err)
		}
		v, err := secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.Vault.Path,
			EncryptionKey: key,
			TTL:           cfg.Vault.CredentialTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open vault: %w", err)
		}
		a.vault = v
		vault = v
		a.shutdown.OnShutdown("vault", func(context.Context) error { return v.Close() })
	}

	httpClient := sdkhttp.NewClient(cfg.API.BaseURL, nil, sdkhttp.Options{
		Timeout:   cfg.API.RequestTimeout,
		UserAgent: cfg.API.UserAgent,
	})
	a.client = api.NewClient(httpClient)
	a.session = session.New(a.client, vault)
	httpClient.SetCredentials(a.session)

	a.sync = synchronizer.New(a.client, a.state, a.session, synchronizer.Options{
		Interval:       cfg.PollInterval,
		RequestTimeout: cfg.API.RequestTimeout,
	})
	a.shutdown.OnShutdown("synchronizer", func(context.Context) error {
		a.sync.Stop()
		return nil
	})

	var tj trade.Journal
	if opts.journal && cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
		tj = j
		a.shutdown.OnShutdown("journal", func(context.Context) error { return j.Close() })
	}
	a.trader = trade.New(a.client, a.state, a.sync, a.session, trade.Options{
		Journal:       tj,
		SubmitTimeout: cfg.API.RequestTimeout,
	})

	ok = true
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.shutdown.Shutdown(ctx)
}

// authenticate 优先恢复保存的会话，其次使用配置中的账号登录
func (a *app) authenticate(ctx context.Context) error {
	if err := a.session.Resume(ctx); err != nil {
		logger.Warnf("resume session failed: %v", err)
	}
	if a.session.Active() {
		return nil
	}
	if a.cfg.Account.Email == "" {
		return errNoCredentials
	}
	_, err := a.session.Login(ctx, api.Credentials{Email: a.cfg.Account.Email, Password: a.cfg.Account.Password})
	return err
}

// refreshOnce 一次性命令用：登录后同步一轮数据
func (a *app) refreshOnce(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	return a.sync.Refresh(ctx)
}
