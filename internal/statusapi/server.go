package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/journal"
	"github.com/betbot/tradedesk/internal/marketstate"
	"github.com/betbot/tradedesk/internal/synchronizer"
	"github.com/betbot/tradedesk/internal/trade"
	"github.com/betbot/tradedesk/pkg/logger"
	"github.com/betbot/tradedesk/pkg/sdk/api"
)

// Session 当前会话（session.Store 实现）
type Session interface {
	Current() *domain.Session
	Credential() (string, bool)
	HandleAuthFailure(token string, err error) bool
	RefreshProfile(ctx context.Context) (*domain.User, error)
}

// Exchange 按需查询的单条数据（api.Client 实现），不经过 Market State
type Exchange interface {
	MarketAsset(ctx context.Context, symbol string) (*domain.MarketAsset, error)
	Transaction(ctx context.Context, id int64) (*domain.Transaction, error)
	BlockchainInfo(ctx context.Context) (api.BlockchainInfo, error)
}

// State 本地数据（marketstate.State 实现）
type State interface {
	Snapshot() marketstate.Snapshot
	Subscribe(buffer int) (<-chan marketstate.Snapshot, func())
}

// Sync 同步器（synchronizer.Synchronizer 实现）
type Sync interface {
	Stats() synchronizer.Stats
	Refresh(ctx context.Context) error
}

// Journal 交易审计（可为 nil）
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Deps 状态 API 的依赖
type Deps struct {
	Session  Session
	State    State
	Sync     Sync
	Trader   *trade.Executor
	Journal  Journal
	Exchange Exchange
}

// Server 本地状态 API（只读视图 + 刷新/交易命令），默认只应监听 localhost
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	log      *logrus.Entry

	pingInterval time.Duration // websocket 心跳
	closing      chan struct{}
	closeOnce    sync.Once
}

func New(deps Deps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log:          logger.WithField("component", "statusapi"),
		pingInterval: 30 * time.Second,
		closing:      make(chan struct{}),
	}
}

// Close 通知所有推送连接退出（http.Server.Shutdown 不会关闭已升级的连接）
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	g := r.Group("/api")
	g.GET("/session", s.handleSession)
	g.GET("/profile", s.handleProfile)
	g.GET("/market/:symbol", s.handleMarketAsset)
	g.GET("/transactions/:id", s.handleTransaction)
	g.GET("/chain", s.handleChainInfo)
	g.GET("/state", s.handleState)
	g.GET("/state/stream", s.handleStateStream)
	g.GET("/sync/stats", s.handleSyncStats)
	g.POST("/refresh", s.handleRefresh)
	g.POST("/trade/buy", s.handleBuy)
	g.POST("/trade/sell", s.handleSell)
	g.GET("/journal", s.handleJournal)

	return r
}

// StartAsync 非阻塞启动，ctx 结束时优雅关闭
func (s *Server) StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("status api stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infof("status api listening on %s", ln.Addr())
	return srv, nil
}
