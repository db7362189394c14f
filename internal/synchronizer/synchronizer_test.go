package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/marketstate"
	"github.com/betbot/tradedesk/internal/session"
	"github.com/betbot/tradedesk/pkg/sdk/api"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
)

func unauthorized() error {
	return &sdkhttp.RequestError{Kind: sdkhttp.KindRejected, StatusCode: 401, Message: "Invalid token"}
}

type fixture struct {
	mock  *api.MockClient
	store *session.Store
	state *marketstate.State
	sync  *Synchronizer
}

// newFixture 创建同步器；interval 为 0 时不随登录启动轮询，只测手动刷新
func newFixture(t *testing.T, reads api.ReadService, interval time.Duration) *fixture {
	t.Helper()
	mock := api.NewMockClient()
	if reads == nil {
		reads = mock
	}
	store := session.New(mock, nil)
	state := marketstate.New()
	s := New(reads, state, store, Options{Interval: interval, RequestTimeout: time.Second})
	if interval > 0 {
		store.Subscribe(s.Listener(context.Background()))
	} else {
		store.Subscribe(session.ListenerFuncs{Deactivate: func() {
			s.Stop()
			s.Clear()
		}})
	}
	t.Cleanup(s.Stop)
	return &fixture{mock: mock, store: store, state: state, sync: s}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	_, err := f.store.Login(context.Background(), api.Credentials{Email: "test@example.com", Password: "pw"})
	require.NoError(t, err)
}

func TestRefresh_AppliesAllReads(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.mock.SetBalance(decimal.NewFromInt(500))
	f.mock.SetHoldings([]domain.Holding{{Symbol: "BTC", Quantity: decimal.NewFromInt(1), CurrentValue: decimal.NewFromInt(43000)}})
	f.login(t)

	require.NoError(t, f.sync.Refresh(context.Background()))

	snap := f.state.Snapshot()
	assert.Equal(t, "500", snap.Balance.Cash.String())
	require.Len(t, snap.Holdings, 1)
	assert.Len(t, snap.Assets, 2)
	assert.False(t, snap.TransactionsUpdatedAt.IsZero())
}

func TestRefresh_NoopWhenUnauthenticated(t *testing.T) {
	f := newFixture(t, nil, 0)

	err := f.sync.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	for _, m := range []string{"Balance", "Portfolio", "Transactions", "MarketAssets"} {
		assert.Equal(t, 0, f.mock.CallCount(m), m)
	}
}

func TestRefresh_FailuresAreIndependent(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.login(t)
	f.mock.FailNext("Balance", &sdkhttp.RequestError{Kind: sdkhttp.KindTransport, Message: sdkhttp.GenericTransportMessage})

	require.NoError(t, f.sync.Refresh(context.Background()))

	snap := f.state.Snapshot()
	assert.True(t, snap.BalanceUpdatedAt.IsZero())
	assert.False(t, snap.HoldingsUpdatedAt.IsZero())
	assert.False(t, snap.AssetsUpdatedAt.IsZero())
	assert.True(t, f.store.Active())

	stats := f.sync.Stats()
	assert.Equal(t, uint64(1), stats.Endpoints[EndpointBalance].Failures)
	assert.Equal(t, sdkhttp.GenericTransportMessage, stats.Endpoints[EndpointBalance].LastError)
	assert.Equal(t, uint64(1), stats.Endpoints[EndpointMarket].Applied)
}

func TestRefresh_AuthFailureForcesLogout(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.login(t)
	require.NoError(t, f.sync.Refresh(context.Background()))
	require.NotEmpty(t, f.state.Snapshot().Assets)

	f.mock.FailNext("Portfolio", unauthorized())
	require.NoError(t, f.sync.Refresh(context.Background()))

	assert.False(t, f.store.Active())
	snap := f.state.Snapshot()
	assert.Empty(t, snap.Assets)
	assert.True(t, snap.Balance.Cash.IsZero())
}

// outOfOrderReads 第一次 Portfolio 调用阻塞到 release 关闭后返回旧数据
type outOfOrderReads struct {
	*api.MockClient
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (r *outOfOrderReads) Portfolio(ctx context.Context) ([]domain.Holding, error) {
	if atomic.AddInt32(&r.calls, 1) == 1 {
		close(r.started)
		<-r.release
		return []domain.Holding{{Symbol: "OLD"}}, nil
	}
	return []domain.Holding{{Symbol: "NEW"}}, nil
}

func TestRefresh_LateResponseDoesNotOverwriteNewer(t *testing.T) {
	reads := &outOfOrderReads{MockClient: api.NewMockClient(), started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, reads, 0)
	f.login(t)

	first := make(chan error, 1)
	go func() { first <- f.sync.Refresh(context.Background()) }()
	<-reads.started

	require.NoError(t, f.sync.Refresh(context.Background()))
	h, ok := f.state.Holding("NEW")
	require.True(t, ok)
	assert.Equal(t, "NEW", h.Symbol)

	close(reads.release)
	require.NoError(t, <-first)

	_, ok = f.state.Holding("OLD")
	assert.False(t, ok)
	_, ok = f.state.Holding("NEW")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), f.sync.Stats().Endpoints[EndpointPortfolio].Stale)
}

func TestStop_DiscardsInFlightResults(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.login(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.mock.SetHook(func(ctx context.Context, method string) error {
		if method == "Balance" {
			close(started)
			<-release
		}
		return nil
	})
	f.mock.SetBalance(decimal.NewFromInt(777))

	done := make(chan error, 1)
	go func() { done <- f.sync.Refresh(context.Background()) }()
	<-started
	f.sync.Stop()
	close(release)
	require.NoError(t, <-done)

	assert.True(t, f.state.Snapshot().BalanceUpdatedAt.IsZero())
	assert.GreaterOrEqual(t, f.sync.Stats().Endpoints[EndpointBalance].Stale, uint64(1))
}

func TestStartStop_PollsOnInterval(t *testing.T) {
	f := newFixture(t, nil, 20*time.Millisecond)
	f.login(t)

	assert.Eventually(t, func() bool { return f.sync.Stats().Cycles >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.sync.Stats().Running)

	// 重复 Start 和手动刷新都不会产生第二个循环
	f.sync.Start(context.Background())
	require.NoError(t, f.sync.Refresh(context.Background()))
	assert.Equal(t, uint64(1), f.sync.Stats().Refreshes)

	f.store.Logout()
	assert.False(t, f.sync.Stats().Running)

	calls := f.mock.CallCount("Balance")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, f.mock.CallCount("Balance"))
	assert.Empty(t, f.state.Snapshot().Assets)
}

func TestLoop_AuthFailureStopsPolling(t *testing.T) {
	f := newFixture(t, nil, 20*time.Millisecond)
	f.mock.FailNext("Transactions", unauthorized())
	f.login(t)

	assert.Eventually(t, func() bool { return !f.store.Active() }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !f.sync.Stats().Running }, 2*time.Second, 5*time.Millisecond)
}

// logoutAfterCredential 第一次交出凭证后立即登出，模拟登出恰好发生在读凭证和发请求之间
type logoutAfterCredential struct {
	*session.Store
	once sync.Once
}

func (a *logoutAfterCredential) Credential() (string, bool) {
	token, ok := a.Store.Credential()
	a.once.Do(a.Store.Logout)
	return token, ok
}

func TestRefresh_LogoutBeforeIssueSendsNothing(t *testing.T) {
	mock := api.NewMockClient()
	mock.SetBalance(decimal.NewFromInt(999))
	mock.SetHoldings([]domain.Holding{{Symbol: "BTC", Quantity: decimal.NewFromInt(1)}})
	store := session.New(mock, nil)
	state := marketstate.New()
	s := New(mock, state, &logoutAfterCredential{Store: store}, Options{RequestTimeout: time.Second})
	store.Subscribe(session.ListenerFuncs{Deactivate: func() {
		s.Stop()
		s.Clear()
	}})
	t.Cleanup(s.Stop)

	_, err := store.Login(context.Background(), api.Credentials{Email: "test@example.com", Password: "pw"})
	require.NoError(t, err)

	err = s.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.False(t, store.Active())

	snap := state.Snapshot()
	assert.True(t, snap.Balance.Cash.IsZero())
	assert.Empty(t, snap.Holdings)
	for _, m := range []string{"Balance", "Portfolio", "Transactions", "MarketAssets"} {
		assert.Equal(t, 0, mock.CallCount(m), m)
	}
}

func TestRefresh_ResultsAfterLogoutAreDropped(t *testing.T) {
	// 不注册 Stop 监听，只靠凭证比对丢弃结果
	mock := api.NewMockClient()
	store := session.New(mock, nil)
	state := marketstate.New()
	s := New(mock, state, store, Options{RequestTimeout: time.Second})
	t.Cleanup(s.Stop)

	_, err := store.Login(context.Background(), api.Credentials{Email: "test@example.com", Password: "pw"})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	mock.SetHook(func(ctx context.Context, method string) error {
		if method == "Balance" {
			close(started)
			<-release
		}
		return nil
	})
	mock.SetBalance(decimal.NewFromInt(999))

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started
	store.Logout()
	close(release)
	require.NoError(t, <-done)

	assert.True(t, state.Snapshot().BalanceUpdatedAt.IsZero())
	stats := s.Stats().Endpoints[EndpointBalance]
	assert.Equal(t, uint64(1), stats.Stale)
	assert.Zero(t, stats.Applied)
}

func TestStart_LoginFiresEachReadOnce(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.login(t)

	assert.Eventually(t, func() bool {
		for _, ep := range f.sync.Stats().Endpoints {
			if ep.Applied != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	for _, m := range []string{"Balance", "Portfolio", "Transactions", "MarketAssets"} {
		assert.Equal(t, 1, f.mock.CallCount(m), m)
	}
	assert.Equal(t, uint64(1), f.sync.Stats().Cycles)
}
