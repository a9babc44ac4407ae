// Package enginetest 提供测试用的内存容器运行时
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"netcfg/internal/engine"
	nerrors "netcfg/pkg/errors"
)

// Runtime 是 engine.Runtime 的内存实现。
// 运行表由测试直接设置，事件通过 Emit 注入。
type Runtime struct {
	mu            sync.Mutex
	running       map[string]int
	failing       map[string]error
	inspected     []string
	subscriptions int

	events chan engine.Event
	errs   chan error
}

// New 创建空的运行时
func New() *Runtime {
	return &Runtime{
		running: make(map[string]int),
		failing: make(map[string]error),
		events:  make(chan engine.Event, 64),
		errs:    make(chan error, 1),
	}
}

// SetRunning 将容器标记为运行中
func (r *Runtime) SetRunning(name string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[name] = pid
	delete(r.failing, name)
}

// SetStopped 将容器标记为已停止
func (r *Runtime) SetStopped(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

// FailInspect 让对该容器的 inspect 返回错误
func (r *Runtime) FailInspect(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[name] = err
}

// Inspected 返回按顺序被 inspect 过的容器名
func (r *Runtime) Inspected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.inspected...)
}

// Subscriptions 返回 Events 被调用的次数
func (r *Runtime) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptions
}

// Inspect 实现 engine.Inspector
func (r *Runtime) Inspect(ctx context.Context, name string) (engine.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inspected = append(r.inspected, name)

	if err, ok := r.failing[name]; ok {
		return engine.State{}, fmt.Errorf("%w: %v", nerrors.ErrRuntimeQuery, err)
	}

	pid, ok := r.running[name]
	if !ok {
		return engine.State{}, nil
	}
	return engine.State{Running: true, Pid: pid}, nil
}

// Events 实现 engine.Runtime，每次订阅共享同一组 channel
func (r *Runtime) Events(ctx context.Context) (<-chan engine.Event, <-chan error) {
	r.mu.Lock()
	r.subscriptions++
	r.mu.Unlock()

	return r.events, r.errs
}

// Emit 向事件流注入一个事件
func (r *Runtime) Emit(ev engine.Event) {
	r.events <- ev
}

// Break 让当前事件流以错误结束
func (r *Runtime) Break(err error) {
	r.errs <- err
}
