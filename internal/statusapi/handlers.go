package statusapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/internal/journal"
	"github.com/betbot/tradedesk/internal/marketstate"
	"github.com/betbot/tradedesk/internal/session"
	"github.com/betbot/tradedesk/internal/trade"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
)

// stateView 快照加展示汇总
type stateView struct {
	marketstate.Snapshot
	PortfolioValue string              `json:"portfolio_value"`
	TotalAssets    string              `json:"total_assets"`
	Allocation     []domain.Allocation `json:"allocation"`
}

func newStateView(snap marketstate.Snapshot) stateView {
	return stateView{
		Snapshot:       snap,
		PortfolioValue: snap.PortfolioValue().StringFixed(2),
		TotalAssets:    snap.TotalAssets().StringFixed(2),
		Allocation:     snap.Allocation(),
	}
}

type buyRequest struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
}

type sellRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleSession(c *gin.Context) {
	sess := s.deps.Session.Current()
	if !sess.Active() {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "user": sess.User})
}

func (s *Server) handleProfile(c *gin.Context) {
	user, err := s.deps.Session.RefreshProfile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) handleMarketAsset(c *gin.Context) {
	asset, err := s.deps.Exchange.MarketAsset(c.Request.Context(), strings.ToUpper(c.Param("symbol")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) handleTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	token, ok := s.deps.Session.Credential()
	if !ok {
		writeError(c, session.ErrNotAuthenticated)
		return
	}
	tx, err := s.deps.Exchange.Transaction(sdkhttp.WithCredential(c.Request.Context(), token), id)
	if err != nil {
		s.deps.Session.HandleAuthFailure(token, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (s *Server) handleChainInfo(c *gin.Context) {
	info, err := s.deps.Exchange.BlockchainInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, newStateView(s.deps.State.Snapshot()))
}

func (s *Server) handleSyncStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Sync.Stats())
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.deps.Sync.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateView(s.deps.State.Snapshot()))
}

func (s *Server) handleBuy(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.deps.Trader.Select(req.Symbol)
	s.deps.Trader.SetQuantity(req.Quantity)
	estimate, hasEstimate := s.deps.Trader.EstimatedCost()

	receipt, err := s.deps.Trader.Buy(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"receipt": receipt}
	if hasEstimate {
		resp["estimated_cost"] = estimate.StringFixed(2)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSell(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	// POST 本身即为显式确认
	receipt, err := s.deps.Trader.Sell(c.Request.Context(), req.Symbol, trade.AlwaysConfirm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []journal.Entry{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.deps.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Warnf("journal query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleStateStream 先推送一次当前快照，之后每次变化推送最新快照
func (s *Server) handleStateStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debugf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.deps.State.Subscribe(4)
	defer cancel()

	// 读循环只用于感知对端关闭
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(v)
	}
	if err := write(newStateView(s.deps.State.Snapshot())); err != nil {
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		case <-peerGone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := write(newStateView(snap)); err != nil {
				return
			}
		}
	}
}

// writeError 按错误类别映射状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, trade.ErrSellDeclined):
		status = http.StatusBadRequest
	case errors.Is(err, trade.ErrTradeInFlight):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNotAuthenticated), sdkhttp.IsAuthFailure(err):
		status = http.StatusUnauthorized
	case notFound(err):
		status = http.StatusNotFound
	case sdkhttp.IsRejected(err):
		status = http.StatusUnprocessableEntity
	case sdkhttp.IsTransport(err):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		msg = sdkhttp.GenericTransportMessage
	}
	c.JSON(status, gin.H{"error": strings.TrimSpace(msg)})
}

func notFound(err error) bool {
	var re *sdkhttp.RequestError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
