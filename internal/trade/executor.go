package trade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/execution"
	"github.com/betbot/tradedesk/internal/session"
	"github.com/betbot/tradedesk/pkg/logger"
	"github.com/betbot/tradedesk/pkg/sdk/api"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
)

var (
	// ErrTradeInFlight 已有一笔交易在提交中，本次提交被丢弃（未发请求）
	ErrTradeInFlight = fmt.Errorf("trade already submitting: %w", execution.ErrDuplicateInFlight)
	// ErrSellDeclined 用户未确认卖出
	ErrSellDeclined = errors.New("sell not confirmed")
)

// 买卖共用一个 key，两者互斥
const guardKey = "trade"

const (
	// DefaultSubmitTimeout 单次买卖请求的默认超时
	DefaultSubmitTimeout = 30 * time.Second
	// 闸门兜底过期时间 = 请求超时 + guardMargin，请求结束前闸门不会过期
	guardMargin = 30 * time.Second
)

// Phase 单次交易尝试所处阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseSubmitting
	PhaseConfirmed
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseSubmitting:
		return "submitting"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ValidationError 本地输入校验失败，不会发出请求
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

// Market 执行器读取的本地行情/持仓（marketstate.State 实现）
type Market interface {
	Asset(symbol string) (domain.MarketAsset, bool)
	Holding(symbol string) (domain.Holding, bool)
}

// Refresher 交易成功后触发的立即刷新（synchronizer.Synchronizer 实现）
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Auth 执行器对会话的依赖（session.Store 实现）
type Auth interface {
	Credential() (string, bool)
	HandleAuthFailure(token string, err error) bool
}

// Journal 交易审计（journal.Journal 实现）；写入失败只记日志
type Journal interface {
	Record(ctx context.Context, kind domain.TradeKind, symbol string, quantity, estimatedCost decimal.Decimal) (string, error)
	Resolve(ctx context.Context, id string, cause error) error
}

// Confirmer 卖出前的显式确认
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc 函数适配器
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// AlwaysConfirm 调用本身已是确认（例如 -yes 或状态 API 的 POST）
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Draft 正在编辑的买单
type Draft struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
}

// Options 执行器可选依赖
type Options struct {
	Journal       Journal
	SubmitTimeout time.Duration     // 单次买卖请求超时，默认 DefaultSubmitTimeout
	OnPhase       func(phase Phase) // 阶段变化回调（同步调用）
}

// Executor 买卖执行器。
// 只负责提交命令并在成功后请求一次刷新，从不直接修改 Market State。
type Executor struct {
	trades    api.TradeService
	market    Market
	refresher Refresher
	auth      Auth
	opts      Options
	guard     *execution.InFlightDeduper
	log       *logrus.Entry

	mu    sync.Mutex
	draft Draft
	phase Phase
}

func New(trades api.TradeService, market Market, refresher Refresher, auth Auth, opts Options) *Executor {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Executor{
		trades:    trades,
		market:    market,
		refresher: refresher,
		auth:      auth,
		opts:      opts,
		guard:     execution.NewInFlightDeduper(opts.SubmitTimeout+guardMargin, 1),
		log:       logger.WithField("component", "trade"),
	}
}

// State 当前阶段
func (e *Executor) State() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Submitting 是否有交易在提交中（用于禁用触发入口）
func (e *Executor) Submitting() bool {
	return e.guard.Busy(guardKey)
}

// Select 选择要买入的资产；切换资产时清空数量
func (e *Executor) Select(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft.Symbol != symbol {
		e.draft.Quantity = ""
	}
	e.draft.Symbol = symbol
}

// SetQuantity 设置买入数量（原样保存，提交时校验）
func (e *Executor) SetQuantity(q string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.Quantity = q
}

// Draft 当前草稿副本
func (e *Executor) Draft() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Cancel 放弃草稿
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = Draft{}
}

// EstimatedCost 草稿的预估花费 = 本地缓存价格 × 数量。
// 仅用于展示，实际扣款以服务端为准，下次刷新时对齐。
func (e *Executor) EstimatedCost() (decimal.Decimal, bool) {
	d := e.Draft()
	if d.Symbol == "" {
		return decimal.Zero, false
	}
	qty, err := parseQuantity(d.Quantity)
	if err != nil {
		return decimal.Zero, false
	}
	return e.estimate(d.Symbol, qty)
}

func (e *Executor) estimate(symbol string, qty decimal.Decimal) (decimal.Decimal, bool) {
	asset, ok := e.market.Asset(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return asset.Price.Mul(qty), true
}

// Buy 提交当前草稿。成功后清空草稿并立即刷新一次；失败时草稿保留。
func (e *Executor) Buy(ctx context.Context) (*api.TradeReceipt, error) {
	owner, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	e.setPhase(PhaseValidating)
	d := e.Draft()
	if d.Symbol == "" {
		e.setPhase(PhaseIdle)
		return nil, &ValidationError{Field: "symbol", Reason: "no asset selected"}
	}
	qty, err := parseQuantity(d.Quantity)
	if err != nil {
		e.setPhase(PhaseIdle)
		return nil, err
	}
	cost, _ := e.estimate(d.Symbol, qty)

	receipt, err := e.submit(ctx, owner, domain.TradeKindBuy, d.Symbol, qty, cost)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.draft = Draft{}
	e.mu.Unlock()

	release()
	e.setPhase(PhaseIdle)
	e.refresh(ctx)
	return receipt, nil
}

// Sell 卖出某资产的全部持仓。数量取自本地持仓，提交前必须经 confirm 确认。
func (e *Executor) Sell(ctx context.Context, symbol string, confirm Confirmer) (*api.TradeReceipt, error) {
	owner, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	e.setPhase(PhaseValidating)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		e.setPhase(PhaseIdle)
		return nil, &ValidationError{Field: "symbol", Reason: "no asset selected"}
	}
	holding, ok := e.market.Holding(symbol)
	if !ok || !holding.Quantity.IsPositive() {
		e.setPhase(PhaseIdle)
		return nil, &ValidationError{Field: "symbol", Reason: fmt.Sprintf("no %s holding to sell", symbol)}
	}

	if confirm == nil {
		e.setPhase(PhaseIdle)
		return nil, ErrSellDeclined
	}
	prompt := fmt.Sprintf("Sell all %s %s (about %s)?", holding.Quantity.String(), symbol, domain.FormatMoney(holding.CurrentValue))
	yes, err := confirm.Confirm(ctx, prompt)
	if err != nil {
		e.setPhase(PhaseIdle)
		return nil, errors.Wrap(err, "confirm sell")
	}
	if !yes {
		e.setPhase(PhaseIdle)
		return nil, ErrSellDeclined
	}

	receipt, err := e.submit(ctx, owner, domain.TradeKindSell, symbol, holding.Quantity, holding.CurrentValue)
	if err != nil {
		return nil, err
	}

	release()
	e.setPhase(PhaseIdle)
	e.refresh(ctx)
	return receipt, nil
}

// acquire 获取 in-flight 闸门，返回可重复调用的释放函数
func (e *Executor) acquire() (uint64, func(), error) {
	owner, err := e.guard.TryAcquire(guardKey)
	if err != nil {
		return 0, nil, ErrTradeInFlight
	}
	var once sync.Once
	return owner, func() { once.Do(func() { e.guard.Release(guardKey, owner) }) }, nil
}

// submit 发出交易请求并记录结果；失败时阶段回到 Idle。
// 请求受 SubmitTimeout 约束，发出前续期闸门，保证请求结束前闸门不会过期。
func (e *Executor) submit(ctx context.Context, owner uint64, kind domain.TradeKind, symbol string, qty, cost decimal.Decimal) (*api.TradeReceipt, error) {
	token, ok := e.auth.Credential()
	if !ok {
		e.setPhase(PhaseIdle)
		return nil, session.ErrNotAuthenticated
	}
	// 等待确认期间闸门可能已过期并被其他提交拿走
	if !e.guard.Renew(guardKey, owner) {
		e.setPhase(PhaseIdle)
		return nil, ErrTradeInFlight
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.SubmitTimeout)
	defer cancel()

	entryID := e.record(ctx, kind, symbol, qty, cost)
	entry := e.log.WithFields(logrus.Fields{"kind": kind, "symbol": symbol, "quantity": qty.String()})

	e.setPhase(PhaseSubmitting)
	req := api.TradeRequest{Symbol: symbol, Quantity: qty}
	var (
		receipt *api.TradeReceipt
		err     error
	)
	if kind == domain.TradeKindBuy {
		receipt, err = e.trades.Buy(ctx, req)
	} else {
		receipt, err = e.trades.Sell(ctx, req)
	}

	if err != nil {
		e.setPhase(PhaseRejected)
		e.resolve(ctx, entryID, err)
		if re, ok := sdkhttp.AsRequestError(err); ok {
			entry.Warnf("trade rejected: %s", re.Detail())
		} else {
			entry.Warnf("trade rejected: %v", err)
		}
		e.auth.HandleAuthFailure(token, err)
		e.setPhase(PhaseIdle)
		return nil, err
	}

	e.setPhase(PhaseConfirmed)
	e.resolve(ctx, entryID, nil)
	entry.Infof("trade confirmed: %s", receipt.Message)
	return receipt, nil
}

func (e *Executor) refresh(ctx context.Context) {
	if e.refresher == nil {
		return
	}
	if err := e.refresher.Refresh(ctx); err != nil {
		e.log.Debugf("post-trade refresh skipped: %v", err)
	}
}

func (e *Executor) record(ctx context.Context, kind domain.TradeKind, symbol string, qty, cost decimal.Decimal) string {
	if e.opts.Journal == nil {
		return ""
	}
	id, err := e.opts.Journal.Record(ctx, kind, symbol, qty, cost)
	if err != nil {
		e.log.Warnf("journal record failed: %v", err)
		return ""
	}
	return id
}

func (e *Executor) resolve(ctx context.Context, id string, cause error) {
	if e.opts.Journal == nil || id == "" {
		return
	}
	// 请求被取消时 ctx 已失效，结果仍然要落盘
	if err := e.opts.Journal.Resolve(context.WithoutCancel(ctx), id, cause); err != nil {
		e.log.Warnf("journal resolve failed: %v", err)
	}
}

func (e *Executor) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	if e.opts.OnPhase != nil {
		e.opts.OnPhase(p)
	}
}

// parseQuantity 数量必须是正数
func parseQuantity(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, &ValidationError{Field: "quantity", Reason: "is required"}
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "quantity", Reason: "must be a number"}
	}
	if !qty.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	return qty, nil
}
