package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/betbot/tradedesk/pkg/logger"
)

// CredentialSource 提供 bearer token（未登录时返回 false）
type CredentialSource interface {
	Credential() (string, bool)
}

// CredentialFunc 函数适配器
type CredentialFunc func() (string, bool)

func (f CredentialFunc) Credential() (string, bool) { return f() }

// Options 客户端参数
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	client      *resty.Client
	credentials CredentialSource
}

// NewClient 创建远端客户端。credentials 可为 nil（只能调用公开接口）。
// 不做自动重试：失败的读请求等待下一轮同步，写请求直接把错误交给调用方。
func NewClient(host string, credentials CredentialSource, opts Options) *Client {
	host = strings.TrimSuffix(host, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tradedesk"
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent)

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		r.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})

	return &Client{client: client, credentials: credentials}
}

type credentialKey struct{}

// WithCredential 为单次调用指定凭证，优先于 CredentialSource（会话恢复时校验旧 token 用）
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

func (c *Client) credential(ctx context.Context) (string, bool) {
	if token, ok := ctx.Value(credentialKey{}).(string); ok && token != "" {
		return token, true
	}
	if c.credentials == nil {
		return "", false
	}
	token, ok := c.credentials.Credential()
	return token, ok && token != ""
}

// SetCredentials 替换凭证来源（Session Store 创建晚于客户端时使用）
func (c *Client) SetCredentials(credentials CredentialSource) {
	c.credentials = credentials
}

// Request 发送请求。
// body 非 nil 时序列化为 JSON；out 非 nil 时把成功响应解码进去。
// requiresAuth 为 true 但没有凭证时依然发出请求，由服务端拒绝，调用方走统一的鉴权失败处理。
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, requiresAuth bool, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r := c.client.R().SetContext(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
	if requiresAuth {
		if token, ok := c.credential(ctx); ok {
			r.SetAuthToken(token)
		}
	}

	start := time.Now()
	resp, err := r.Execute(strings.ToUpper(method), endpoint)
	entry := logger.WithFields(map[string]interface{}{
		"component": "remote",
		"method":    strings.ToUpper(method),
		"path":      endpoint,
		"latency":   time.Since(start).Round(time.Millisecond),
	})
	if err != nil {
		entry.Debugf("request failed: %v", err)
		return &RequestError{
			Kind:     KindTransport,
			Method:   method,
			Endpoint: endpoint,
			Message:  GenericTransportMessage,
			Err:      errors.Wrapf(err, "%s %s", method, endpoint),
		}
	}
	entry.WithField("status", resp.StatusCode()).Debug("request done")

	if !resp.IsSuccess() {
		return &RequestError{
			Kind:       KindRejected,
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode(),
			Message:    serverMessage(resp.Body()),
		}
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &RequestError{
			Kind:       KindTransport,
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode(),
			Message:    GenericTransportMessage,
			Err:        errors.Wrap(err, "decode response"),
		}
	}
	return nil
}

// Get 便捷方法
func (c *Client) Get(ctx context.Context, endpoint string, requiresAuth bool, out any) error {
	return c.Request(ctx, http.MethodGet, endpoint, nil, requiresAuth, out)
}

// Post 便捷方法
func (c *Client) Post(ctx context.Context, endpoint string, body any, requiresAuth bool, out any) error {
	return c.Request(ctx, http.MethodPost, endpoint, body, requiresAuth, out)
}

// serverMessage 取服务端 {message} 字段，缺失时使用通用提示
func serverMessage(b []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &body); err == nil && strings.TrimSpace(body.Message) != "" {
		return body.Message
	}
	return GenericRejectionMessage
}
