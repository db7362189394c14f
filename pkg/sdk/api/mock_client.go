package api

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradedesk/internal/domain"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
)

// MockClient is an in-memory Service for tests.
type MockClient struct {
	mu sync.RWMutex

	// Response data
	Token        string
	User         *domain.User
	BalanceResp  *domain.Balance
	Holdings     []domain.Holding
	History      []domain.Transaction
	Assets       []domain.MarketAsset
	Receipt      *TradeReceipt
	Info         BlockchainInfo
	LastTrade    *TradeRequest
	LastTradeKey string

	// Hook runs before every call (after error injection); it may block to
	// simulate latency and must honour ctx.
	Hook func(ctx context.Context, method string) error

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

var _ Service = (*MockClient)(nil)

// NewMockClient creates a mock with a logged-in user and two market assets.
func NewMockClient() *MockClient {
	return &MockClient{
		Token: "test-token",
		User:  &domain.User{ID: 1, Name: "Test User", Email: "test@example.com", Balance: decimal.NewFromInt(10000)},
		BalanceResp: &domain.Balance{
			Cash: decimal.NewFromInt(10000),
		},
		Holdings: []domain.Holding{},
		History:  []domain.Transaction{},
		Assets: []domain.MarketAsset{
			{ID: "BTC", Symbol: "BTC", DisplayName: "Bitcoin", Price: decimal.NewFromInt(43000)},
			{ID: "ETH", Symbol: "ETH", DisplayName: "Ethereum", Price: decimal.RequireFromString("2280.75")},
		},
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockClient) trackCall(ctx context.Context, name string) error {
	m.mu.Lock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		m.mu.Unlock()
		return err
	}
	hook := m.Hook
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx, name)
	}
	return nil
}

// CallCount returns how many times method was called.
func (m *MockClient) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

// FailNext makes the next call to method return err.
func (m *MockClient) FailNext(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNext[name] = err
}

// SetHook replaces the per-call hook.
func (m *MockClient) SetHook(hook func(ctx context.Context, method string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hook = hook
}

// SetHoldings replaces the portfolio response.
func (m *MockClient) SetHoldings(h []domain.Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Holdings = h
}

// SetBalance replaces the balance response.
func (m *MockClient) SetBalance(cash decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BalanceResp = &domain.Balance{Cash: cash, TotalAssets: cash}
}

func (m *MockClient) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	if err := m.trackCall(ctx, "Login"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := *m.User
	return &AuthResponse{Message: "Login successful", Token: m.Token, User: &u}, nil
}

func (m *MockClient) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	if err := m.trackCall(ctx, "Signup"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := *m.User
	u.Name, u.Email = req.Name, req.Email
	return &AuthResponse{Message: "User created successfully", Token: m.Token, User: &u}, nil
}

func (m *MockClient) Profile(ctx context.Context) (*domain.User, error) {
	if err := m.trackCall(ctx, "Profile"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := *m.User
	return &u, nil
}

func (m *MockClient) Balance(ctx context.Context) (*domain.Balance, error) {
	if err := m.trackCall(ctx, "Balance"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := *m.BalanceResp
	return &b, nil
}

func (m *MockClient) Portfolio(ctx context.Context) ([]domain.Holding, error) {
	if err := m.trackCall(ctx, "Portfolio"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Holding{}, m.Holdings...), nil
}

func (m *MockClient) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	if err := m.trackCall(ctx, "Transactions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Transaction{}, m.History...), nil
}

func (m *MockClient) MarketAssets(ctx context.Context) ([]domain.MarketAsset, error) {
	if err := m.trackCall(ctx, "MarketAssets"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.MarketAsset{}, m.Assets...), nil
}

func (m *MockClient) MarketAsset(ctx context.Context, symbol string) (*domain.MarketAsset, error) {
	if err := m.trackCall(ctx, "MarketAsset"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.Assets {
		if a.Symbol == symbol {
			out := a
			return &out, nil
		}
	}
	return nil, notFound("GET", PathMarket+"/"+symbol, "Cryptocurrency not found")
}

func (m *MockClient) Transaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	if err := m.trackCall(ctx, "Transaction"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tx := range m.History {
		if tx.ID == id {
			out := tx
			return &out, nil
		}
	}
	return nil, notFound("GET", PathTransactions, "Transaction not found")
}

func notFound(method, path, msg string) error {
	return &sdkhttp.RequestError{Kind: sdkhttp.KindRejected, Method: method, Endpoint: path, StatusCode: 404, Message: msg}
}

func (m *MockClient) Buy(ctx context.Context, req TradeRequest) (*TradeReceipt, error) {
	return m.trade(ctx, "Buy", req)
}

func (m *MockClient) Sell(ctx context.Context, req TradeRequest) (*TradeReceipt, error) {
	return m.trade(ctx, "Sell", req)
}

func (m *MockClient) trade(ctx context.Context, name string, req TradeRequest) (*TradeReceipt, error) {
	if err := m.trackCall(ctx, name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := req
	m.LastTrade = &r
	m.LastTradeKey = name
	if m.Receipt != nil {
		out := *m.Receipt
		return &out, nil
	}
	return &TradeReceipt{Message: name + " successful"}, nil
}

func (m *MockClient) BlockchainInfo(ctx context.Context) (BlockchainInfo, error) {
	if err := m.trackCall(ctx, "BlockchainInfo"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Info != nil {
		return m.Info, nil
	}
	return BlockchainInfo{"blockchain": "CryptoChain Network"}, nil
}

// LastTradeRequest returns the most recent Buy/Sell call.
func (m *MockClient) LastTradeRequest() (string, *TradeRequest) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastTradeKey, m.LastTrade
}
