package synchronizer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/marketstate"
	"github.com/betbot/tradedesk/internal/session"
	"github.com/betbot/tradedesk/pkg/config"
	"github.com/betbot/tradedesk/pkg/logger"
	"github.com/betbot/tradedesk/pkg/sdk/api"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
	"github.com/betbot/tradedesk/pkg/syncgroup"
)

// 同步的四个读接口
const (
	EndpointBalance      = "balance"
	EndpointPortfolio    = "portfolio"
	EndpointTransactions = "transactions"
	EndpointMarket       = "market"
)

var endpoints = []string{EndpointBalance, EndpointPortfolio, EndpointTransactions, EndpointMarket}

// Auth 同步器对会话的依赖（session.Store 实现）
type Auth interface {
	Credential() (string, bool)
	HandleAuthFailure(token string, err error) bool
}

// Options 同步器参数
type Options struct {
	Interval       time.Duration // 轮询周期，默认 30 秒
	RequestTimeout time.Duration // 单个读请求超时，<=0 表示只受调用方 ctx 约束
}

// Synchronizer 周期性地把远端数据拉取到 Market State。
//
// 每个读请求在发出时拿到 (epoch, seq)：seq 按接口单调递增，epoch 在 Stop 时递增。
// 只有 epoch 仍是当前值且 seq 大于该接口已应用的 seq 时结果才会写入，
// 因此迟到的旧请求和上一个会话的请求都不会覆盖新数据。
// 同一接口发出新请求时会取消尚未返回的旧请求。
type Synchronizer struct {
	reads api.ReadService
	state *marketstate.State
	auth  Auth
	opts  Options
	log   *logrus.Entry

	mu        sync.Mutex
	epoch     uint64
	endpoints map[string]*endpointState
	cycles    uint64
	refreshes uint64

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type endpointState struct {
	issued      uint64
	cancel      context.CancelFunc // 最新一次在途请求
	applied     uint64
	appliedN    uint64
	stale       uint64
	failures    uint64
	lastError   string
	lastSuccess time.Time
}

// EndpointStats 单个接口的计数
type EndpointStats struct {
	Applied     uint64    `json:"applied"`
	Stale       uint64    `json:"stale_dropped"`
	Failures    uint64    `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
}

// Stats 同步器计数快照
type Stats struct {
	Running   bool                     `json:"running"`
	Epoch     uint64                   `json:"epoch"`
	Cycles    uint64                   `json:"cycles"`
	Refreshes uint64                   `json:"refreshes"`
	Endpoints map[string]EndpointStats `json:"endpoints"`
}

func New(reads api.ReadService, state *marketstate.State, auth Auth, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultPollInterval
	}
	eps := make(map[string]*endpointState, len(endpoints))
	for _, name := range endpoints {
		eps[name] = &endpointState{}
	}
	return &Synchronizer{
		reads:     reads,
		state:     state,
		auth:      auth,
		opts:      opts,
		log:       logger.WithField("component", "synchronizer"),
		endpoints: eps,
	}
}

// Listener 返回会话监听器：登录后启动轮询，登出后停止并清空数据
func (s *Synchronizer) Listener(ctx context.Context) session.Listener {
	return session.ListenerFuncs{
		Activate: func(*domain.Session) { s.Start(ctx) },
		Deactivate: func() {
			s.Stop()
			s.Clear()
		},
	}
}

// Start 启动轮询：立即同步一次，之后按 Interval 周期同步。已在运行时为 no-op。
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done

	go s.loop(loopCtx, done)
	s.log.Infof("started, interval=%s", s.opts.Interval)
}

// Stop 停止轮询并等待循环退出；递增 epoch 使在途读请求的结果失效。可重复调用。
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.epoch++
	for _, ep := range s.endpoints {
		if ep.cancel != nil {
			ep.cancel()
			ep.cancel = nil
		}
	}
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("stopped")
}

// Clear 清空 Market State
func (s *Synchronizer) Clear() {
	s.state.Clear()
}

// Refresh 立即发出一轮读取，不影响定时器。未登录时返回 session.ErrNotAuthenticated。
// 读失败只记录日志，不返回错误。
func (s *Synchronizer) Refresh(ctx context.Context) error {
	fail, err := s.cycle(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()

	if fail != nil {
		s.auth.HandleAuthFailure(fail.token, fail.err)
	}
	return nil
}

// Stats 返回计数快照
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Running:   s.running,
		Epoch:     s.epoch,
		Cycles:    s.cycles,
		Refreshes: s.refreshes,
		Endpoints: make(map[string]EndpointStats, len(s.endpoints)),
	}
	for name, ep := range s.endpoints {
		out.Endpoints[name] = EndpointStats{
			Applied:     ep.appliedN,
			Stale:       ep.stale,
			Failures:    ep.failures,
			LastError:   ep.lastError,
			LastSuccess: ep.lastSuccess,
		}
	}
	return out
}

func (s *Synchronizer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Synchronizer) tick(ctx context.Context) {
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()

	fail, _ := s.cycle(ctx)
	if fail != nil {
		// 登出会回调 Stop 并等待本循环退出，不能在循环里同步调用
		go s.auth.HandleAuthFailure(fail.token, fail.err)
	}
}

type authFailure struct {
	token string
	err   error
}

type ticket struct {
	token  string
	epoch  uint64
	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// cycle 并发发出四个读请求并等待全部完成，返回遇到的第一个鉴权失败
func (s *Synchronizer) cycle(ctx context.Context) (*authFailure, error) {
	token, ok := s.auth.Credential()
	if !ok {
		return nil, session.ErrNotAuthenticated
	}
	// 本轮所有请求固定使用发起时的凭证
	ctx = sdkhttp.WithCredential(ctx, token)

	tickets, ok := s.issue(ctx, token)
	if !ok {
		return nil, session.ErrNotAuthenticated
	}

	var (
		group  = syncgroup.NewSyncGroup()
		failMu sync.Mutex
		fail   *authFailure
	)
	for _, name := range endpoints {
		name, t := name, tickets[name]
		group.Add(func() {
			defer s.finish(name, t)
			err := s.read(t.ctx, name, t)
			if err == nil || !sdkhttp.IsAuthFailure(err) {
				return
			}
			failMu.Lock()
			if fail == nil {
				fail = &authFailure{token: token, err: err}
			}
			failMu.Unlock()
		})
	}
	group.RunAndWait()
	return fail, nil
}

// issue 在 s.mu 下确认凭证仍是 token 后分配 (epoch, seq)。
// 登出先清空会话再调用 Stop，所以这里看到的凭证和 epoch 属于同一个会话。
func (s *Synchronizer) issue(ctx context.Context, token string) (map[string]ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.credentialIs(token) {
		return nil, false
	}
	out := make(map[string]ticket, len(endpoints))
	for _, name := range endpoints {
		ep := s.endpoints[name]
		if ep.cancel != nil {
			ep.cancel()
		}
		ep.issued++
		var (
			rctx   context.Context
			cancel context.CancelFunc
		)
		if s.opts.RequestTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		} else {
			rctx, cancel = context.WithCancel(ctx)
		}
		ep.cancel = cancel
		out[name] = ticket{token: token, epoch: s.epoch, seq: ep.issued, ctx: rctx, cancel: cancel}
	}
	return out, true
}

func (s *Synchronizer) credentialIs(token string) bool {
	current, ok := s.auth.Credential()
	return ok && current == token
}

func (s *Synchronizer) finish(name string, t ticket) {
	s.mu.Lock()
	if ep := s.endpoints[name]; ep.issued == t.seq {
		ep.cancel = nil
	}
	s.mu.Unlock()
	t.cancel()
}

func (s *Synchronizer) read(ctx context.Context, name string, t ticket) error {
	var (
		apply func()
		err   error
	)
	switch name {
	case EndpointBalance:
		b, e := s.reads.Balance(ctx)
		err = e
		if e == nil {
			apply = func() { s.state.SetBalance(*b) }
		}
	case EndpointPortfolio:
		h, e := s.reads.Portfolio(ctx)
		err = e
		if e == nil {
			apply = func() { s.state.SetHoldings(h) }
		}
	case EndpointTransactions:
		tx, e := s.reads.Transactions(ctx)
		err = e
		if e == nil {
			apply = func() { s.state.SetTransactions(tx) }
		}
	case EndpointMarket:
		a, e := s.reads.MarketAssets(ctx)
		err = e
		if e == nil {
			apply = func() { s.state.SetAssets(a) }
		}
	}

	if err != nil {
		s.recordFailure(name, t, err)
		return err
	}
	s.apply(name, t, apply)
	return nil
}

func (s *Synchronizer) apply(name string, t ticket, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.endpoints[name]
	// 会话已结束（即使没有注册 Stop 监听）的结果同样丢弃
	if t.epoch != s.epoch || t.seq <= ep.applied || !s.credentialIs(t.token) {
		ep.stale++
		s.log.WithFields(logrus.Fields{"endpoint": name, "seq": t.seq, "applied": ep.applied}).Debug("stale result dropped")
		return
	}
	ep.applied = t.seq
	ep.appliedN++
	ep.lastSuccess = time.Now()
	ep.lastError = ""
	fn()
}

func (s *Synchronizer) recordFailure(name string, t ticket, err error) {
	s.mu.Lock()
	ep := s.endpoints[name]
	// Stop 先递增 epoch 再取消，被取代、被停止或会话已结束的请求只算过期，不算失败
	current := t.epoch == s.epoch && t.seq == ep.issued && s.credentialIs(t.token)
	if current {
		ep.failures++
		ep.lastError = err.Error()
	} else {
		ep.stale++
	}
	s.mu.Unlock()

	if !current {
		return
	}
	detail := err.Error()
	if re, ok := sdkhttp.AsRequestError(err); ok {
		detail = re.Detail()
	}
	s.log.WithField("endpoint", name).Warnf("read failed: %s", detail)
}
