package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/pkg/logger"
	"github.com/betbot/tradedesk/pkg/sdk/api"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
)

// VaultKey 凭证在 Vault 中的 key
const VaultKey = "session.credential"

// ErrNotAuthenticated 当前没有登录会话
var ErrNotAuthenticated = errors.New("not authenticated")

// Vault 凭证持久化（pkg/secretstore.Store 实现了该接口）
type Vault interface {
	GetString(key string) (string, bool, error)
	SetString(key, val string) error
	Delete(key string) error
}

// Listener 会话生命周期回调，按注册顺序同步调用
type Listener interface {
	OnActivate(s *domain.Session)
	OnDeactivate()
}

// ListenerFuncs 函数适配器，未设置的回调忽略
type ListenerFuncs struct {
	Activate   func(s *domain.Session)
	Deactivate func()
}

func (f ListenerFuncs) OnActivate(s *domain.Session) {
	if f.Activate != nil {
		f.Activate(s)
	}
}

func (f ListenerFuncs) OnDeactivate() {
	if f.Deactivate != nil {
		f.Deactivate()
	}
}

// ValidationError 本地校验失败，不会发出请求
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

// Store 会话存储：唯一持有 credential 与当前用户
//
// 生命周期：login/signup/resume -> active -> logout。
// 除用户主动操作外，唯一的自动迁移是已登录请求返回鉴权失败时的强制登出。
type Store struct {
	svc   api.AuthService
	vault Vault
	log   *logrus.Entry

	mu        sync.RWMutex
	session   *domain.Session
	listeners []Listener
}

// New 创建会话存储，默认未登录。vault 可为 nil（不持久化，也不会自动恢复）。
func New(svc api.AuthService, vault Vault) *Store {
	return &Store{
		svc:   svc,
		vault: vault,
		log:   logger.WithField("component", "session"),
	}
}

// Subscribe 注册生命周期回调
func (s *Store) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Credential 实现 sdkhttp.CredentialSource
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", false
	}
	return s.session.Credential, true
}

// Current 返回当前会话副本（未登录为 nil）
func (s *Store) Current() *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Active 是否已登录
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Active()
}

// Login 登录，失败时保持未登录状态并返回可读错误
func (s *Store) Login(ctx context.Context, creds api.Credentials) (*domain.Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" {
		return nil, &ValidationError{Field: "email"}
	}
	if creds.Password == "" {
		return nil, &ValidationError{Field: "password"}
	}

	resp, err := s.svc.Login(ctx, creds)
	if err != nil {
		s.log.Warnf("login failed: %s", describe(err))
		return nil, err
	}
	return s.activate(resp.Token, resp.User), nil
}

// Signup 注册，成功后直接进入登录状态（服务端返回可用 token）
func (s *Store) Signup(ctx context.Context, req api.SignupRequest) (*domain.Session, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Name == "":
		return nil, &ValidationError{Field: "name"}
	case req.Email == "":
		return nil, &ValidationError{Field: "email"}
	case req.Password == "":
		return nil, &ValidationError{Field: "password"}
	}

	resp, err := s.svc.Signup(ctx, req)
	if err != nil {
		s.log.Warnf("signup failed: %s", describe(err))
		return nil, err
	}
	return s.activate(resp.Token, resp.User), nil
}

// Resume 用 vault 中保存的凭证静默恢复会话。
// 没有 vault 或没有保存的凭证时保持未登录并返回 nil；凭证失效时清掉它。
func (s *Store) Resume(ctx context.Context) error {
	if s.vault == nil || s.Active() {
		return nil
	}
	token, found, err := s.vault.GetString(VaultKey)
	if err != nil {
		return fmt.Errorf("read stored credential: %w", err)
	}
	if !found || token == "" {
		return nil
	}

	user, err := s.svc.Profile(sdkhttp.WithCredential(ctx, token))
	if err != nil {
		if sdkhttp.IsAuthFailure(err) {
			s.log.Info("stored credential rejected, starting unauthenticated")
			if derr := s.vault.Delete(VaultKey); derr != nil {
				s.log.Warnf("delete stored credential: %v", derr)
			}
			return nil
		}
		return err
	}
	s.activate(token, user)
	return nil
}

// RefreshProfile 刷新当前用户资料；鉴权失败会强制登出
func (s *Store) RefreshProfile(ctx context.Context) (*domain.User, error) {
	token, ok := s.Credential()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	user, err := s.svc.Profile(sdkhttp.WithCredential(ctx, token))
	if err != nil {
		s.HandleAuthFailure(token, err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Credential != token {
		return nil, ErrNotAuthenticated
	}
	s.session.User = user
	u := *user
	return &u, nil
}

// Logout 无条件清空会话并通知监听者清理下游数据，可重复调用
func (s *Store) Logout() {
	s.mu.Lock()
	was := s.session
	s.session = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if s.vault != nil {
		if err := s.vault.Delete(VaultKey); err != nil {
			s.log.Warnf("delete stored credential: %v", err)
		}
	}
	if was != nil && was.User != nil {
		s.log.Infof("logged out: %s", was.User.Email)
	}
	for _, l := range listeners {
		l.OnDeactivate()
	}
}

// HandleAuthFailure 已登录请求返回鉴权失败时调用。
// token 是发请求时使用的凭证：只有它仍是当前凭证时才登出，旧会话的迟到错误不影响新会话。
func (s *Store) HandleAuthFailure(token string, err error) bool {
	if !sdkhttp.IsAuthFailure(err) {
		return false
	}
	current, ok := s.Credential()
	if !ok || current != token {
		return false
	}
	s.log.Warnf("credential rejected, forcing logout: %s", describe(err))
	s.Logout()
	return true
}

func (s *Store) activate(token string, user *domain.User) *domain.Session {
	s.mu.Lock()
	previous := s.session
	s.mu.Unlock()
	// 切换账号时先完整登出，避免上一个用户的数据残留
	if previous != nil && previous.Credential != token {
		s.Logout()
	}

	sess := &domain.Session{Credential: token, User: user}
	s.mu.Lock()
	s.session = sess
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if s.vault != nil {
		if err := s.vault.SetString(VaultKey, token); err != nil {
			s.log.Warnf("persist credential: %v", err)
		}
	}
	s.log.WithField("user", user.Email).Info("session active")

	for _, l := range listeners {
		l.OnActivate(sess.Clone())
	}
	return sess.Clone()
}

func describe(err error) string {
	if re, ok := sdkhttp.AsRequestError(err); ok {
		return re.Detail()
	}
	return err.Error()
}
