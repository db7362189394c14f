package api

import (
	"context"
	"fmt"
	"net/url"

	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"

	"github.com/betbot/tradedesk/internal/domain"
)

const (
	PathLogin          = "/auth/login"
	PathSignup         = "/auth/signup"
	PathProfile        = "/user/profile"
	PathBalance        = "/user/balance"
	PathMarket         = "/market/crypto"
	PathPortfolio      = "/portfolio"
	PathTransactions   = "/transactions"
	PathBuy            = "/trade/buy"
	PathSell           = "/trade/sell"
	PathBlockchainInfo = "/blockchain/info"
)

// AuthService 登录/注册/资料
type AuthService interface {
	Login(ctx context.Context, creds Credentials) (*AuthResponse, error)
	Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error)
	Profile(ctx context.Context) (*domain.User, error)
}

// ReadService 同步器轮询的四个读接口
type ReadService interface {
	Balance(ctx context.Context) (*domain.Balance, error)
	Portfolio(ctx context.Context) ([]domain.Holding, error)
	Transactions(ctx context.Context) ([]domain.Transaction, error)
	MarketAssets(ctx context.Context) ([]domain.MarketAsset, error)
}

// TradeService 买卖命令
type TradeService interface {
	Buy(ctx context.Context, req TradeRequest) (*TradeReceipt, error)
	Sell(ctx context.Context, req TradeRequest) (*TradeReceipt, error)
}

// Service 服务端完整契约
type Service interface {
	AuthService
	ReadService
	TradeService
	MarketAsset(ctx context.Context, symbol string) (*domain.MarketAsset, error)
	Transaction(ctx context.Context, id int64) (*domain.Transaction, error)
	BlockchainInfo(ctx context.Context) (BlockchainInfo, error)
}

// Client 基于远端客户端的 Service 实现
type Client struct {
	http *sdkhttp.Client
}

var _ Service = (*Client)(nil)

// NewClient 创建 API 客户端
func NewClient(httpClient *sdkhttp.Client) *Client {
	return &Client{http: httpClient}
}

func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.http.Post(ctx, PathLogin, creds, false, &out); err != nil {
		return nil, err
	}
	if err := validateAuth(PathLogin, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.http.Post(ctx, PathSignup, req, false, &out); err != nil {
		return nil, err
	}
	if err := validateAuth(PathSignup, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Profile(ctx context.Context) (*domain.User, error) {
	var out profileResponse
	if err := c.http.Get(ctx, PathProfile, true, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, malformed("GET", PathProfile, "missing user")
	}
	return out.User, nil
}

func (c *Client) Balance(ctx context.Context) (*domain.Balance, error) {
	var out domain.Balance
	if err := c.http.Get(ctx, PathBalance, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarketAssets(ctx context.Context) ([]domain.MarketAsset, error) {
	var out marketResponse
	if err := c.http.Get(ctx, PathMarket, false, &out); err != nil {
		return nil, err
	}
	if out.Cryptos == nil {
		out.Cryptos = []domain.MarketAsset{}
	}
	return out.Cryptos, nil
}

func (c *Client) MarketAsset(ctx context.Context, symbol string) (*domain.MarketAsset, error) {
	var out domain.MarketAsset
	if err := c.http.Get(ctx, PathMarket+"/"+url.PathEscape(symbol), false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Portfolio(ctx context.Context) ([]domain.Holding, error) {
	var out portfolioResponse
	if err := c.http.Get(ctx, PathPortfolio, true, &out); err != nil {
		return nil, err
	}
	if out.Portfolio == nil {
		out.Portfolio = []domain.Holding{}
	}
	return out.Portfolio, nil
}

func (c *Client) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	var out transactionsResponse
	if err := c.http.Get(ctx, PathTransactions, true, &out); err != nil {
		return nil, err
	}
	if out.Transactions == nil {
		out.Transactions = []domain.Transaction{}
	}
	return out.Transactions, nil
}

func (c *Client) Transaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var out transactionResponse
	path := fmt.Sprintf("%s/%d", PathTransactions, id)
	if err := c.http.Get(ctx, path, true, &out); err != nil {
		return nil, err
	}
	if out.Transaction == nil {
		return nil, malformed("GET", path, "missing transaction")
	}
	return out.Transaction, nil
}

func (c *Client) Buy(ctx context.Context, req TradeRequest) (*TradeReceipt, error) {
	var out TradeReceipt
	if err := c.http.Post(ctx, PathBuy, req, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Sell(ctx context.Context, req TradeRequest) (*TradeReceipt, error) {
	var out TradeReceipt
	if err := c.http.Post(ctx, PathSell, req, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BlockchainInfo(ctx context.Context) (BlockchainInfo, error) {
	out := BlockchainInfo{}
	if err := c.http.Get(ctx, PathBlockchainInfo, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateAuth 成功响应必须带上可用的 token 和用户
func validateAuth(path string, out *AuthResponse) error {
	if out.Token == "" || out.User == nil {
		return malformed("POST", path, "missing token or user")
	}
	return nil
}

func malformed(method, path, reason string) error {
	return &sdkhttp.RequestError{
		Kind:     sdkhttp.KindTransport,
		Method:   method,
		Endpoint: path,
		Message:  sdkhttp.GenericTransportMessage,
		Err:      fmt.Errorf("malformed response: %s", reason),
	}
}
