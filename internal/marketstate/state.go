package marketstate

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradedesk/internal/domain"
)

// Snapshot 某一时刻的只读副本；各集合的 UpdatedAt 为零值表示尚未同步过
type Snapshot struct {
	Balance      domain.Balance       `json:"balance"`
	Holdings     []domain.Holding     `json:"holdings"`
	Transactions []domain.Transaction `json:"transactions"`
	Assets       []domain.MarketAsset `json:"assets"`

	BalanceUpdatedAt      time.Time `json:"balance_updated_at"`
	HoldingsUpdatedAt     time.Time `json:"holdings_updated_at"`
	TransactionsUpdatedAt time.Time `json:"transactions_updated_at"`
	AssetsUpdatedAt       time.Time `json:"assets_updated_at"`
}

// PortfolioValue 持仓市值合计（展示用）
func (s Snapshot) PortfolioValue() decimal.Decimal {
	return domain.PortfolioValue(s.Holdings)
}

// TotalAssets 现金 + 持仓市值（展示用）
func (s Snapshot) TotalAssets() decimal.Decimal {
	return s.Balance.Cash.Add(s.PortfolioValue())
}

// Allocation 各持仓占比
func (s Snapshot) Allocation() []domain.Allocation {
	return domain.Allocations(s.Holdings)
}

// State 本地市场/账户数据缓存。
// 只有同步器写入，每次成功读取整体替换对应集合。
type State struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

func New() *State {
	return &State{
		snap: emptySnapshot(),
		now:  time.Now,
		subs: make(map[int]chan Snapshot),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Holdings:     []domain.Holding{},
		Transactions: []domain.Transaction{},
		Assets:       []domain.MarketAsset{},
	}
}

func (s *State) SetBalance(b domain.Balance) {
	s.update(func(snap *Snapshot, now time.Time) {
		snap.Balance = b
		snap.BalanceUpdatedAt = now
	})
}

func (s *State) SetHoldings(h []domain.Holding) {
	h = append([]domain.Holding{}, h...)
	s.update(func(snap *Snapshot, now time.Time) {
		snap.Holdings = h
		snap.HoldingsUpdatedAt = now
	})
}

func (s *State) SetTransactions(tx []domain.Transaction) {
	tx = append([]domain.Transaction{}, tx...)
	s.update(func(snap *Snapshot, now time.Time) {
		snap.Transactions = tx
		snap.TransactionsUpdatedAt = now
	})
}

func (s *State) SetAssets(a []domain.MarketAsset) {
	a = append([]domain.MarketAsset{}, a...)
	s.update(func(snap *Snapshot, now time.Time) {
		snap.Assets = a
		snap.AssetsUpdatedAt = now
	})
}

// Clear 登出时清空所有数据
func (s *State) Clear() {
	s.update(func(snap *Snapshot, _ time.Time) {
		*snap = emptySnapshot()
	})
}

// Snapshot 返回当前数据副本。
// 集合在写入时整体替换、从不原地修改，所以共享底层切片是安全的。
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Asset 按 symbol 查行情（大小写不敏感）
func (s *State) Asset(symbol string) (domain.MarketAsset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.snap.Assets {
		if strings.EqualFold(a.Key(), symbol) {
			return a, true
		}
	}
	return domain.MarketAsset{}, false
}

// Holding 按 symbol 查持仓（大小写不敏感）
func (s *State) Holding(symbol string) (domain.Holding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.snap.Holdings {
		if strings.EqualFold(h.Symbol, symbol) {
			return h, true
		}
	}
	return domain.Holding{}, false
}

// Subscribe 订阅快照变化，返回通道和取消函数。
// 发布不阻塞：通道满时丢弃最旧的快照，订阅者最终总能拿到最新的一份。
func (s *State) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *State) update(fn func(snap *Snapshot, now time.Time)) {
	s.mu.Lock()
	fn(&s.snap, s.now())
	snap := s.snap
	// 持有 subMu 直到发布完成，保证订阅者看到的顺序与写入顺序一致
	s.subMu.Lock()
	s.mu.Unlock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		publish(ch, snap)
	}
}

func publish(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
