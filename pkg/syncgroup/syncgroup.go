package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，自动管理 Add() 和 Done()
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个函数，Run() 时并发启动
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.pending = append(g.pending, fn)
	g.mu.Unlock()
}

// Go 立即在新 goroutine 中运行 fn
func (g *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Run 启动所有已登记的函数并清空登记列表，可重复调用
func (g *SyncGroup) Run() {
	g.mu.Lock()
	fns := g.pending
	g.pending = nil
	g.mu.Unlock()

	for _, fn := range fns {
		g.Go(fn)
	}
}

// Wait 等待所有已启动的 goroutine 完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// RunAndWait Run() + Wait()
func (g *SyncGroup) RunAndWait() {
	g.Run()
	g.Wait()
}
