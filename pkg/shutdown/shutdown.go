package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/tradedesk/pkg/logger"
)

// Handler 关闭回调
type Handler func(ctx context.Context) error

type hook struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。
// 回调按注册的逆序依次执行（后创建的组件先关闭），与 defer 语义一致。
type Manager struct {
	mu    sync.Mutex
	hooks []hook
	done  bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, fn Handler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown 执行所有关闭回调（阻塞调用），只会执行一次。
// ctx 应带超时；超时后剩余回调仍会被调用，但拿到的是已结束的 ctx。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	if len(hooks) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}
	logger.Infof("开始优雅关闭，共 %d 个回调", len(hooks))

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			logger.Warnf("关闭 %s 失败: %v", h.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		logger.Debugf("已关闭 %s", h.name)
	}

	if ctx.Err() != nil {
		logger.Warnf("关闭超时: %v", ctx.Err())
	} else {
		logger.Info("所有关闭回调已完成")
	}
	return errors.Join(errs...)
}
