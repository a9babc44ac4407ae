package state

import (
	"context"
	"fmt"
	"sort"

	"netcfg/internal/engine"
	"netcfg/internal/log"
	"netcfg/internal/network"
	nerrors "netcfg/pkg/errors"
)

// Store 是配置存储，按名称持有全部网络和容器。
// 只有 Store 可以创建或销毁网络和容器。
// Store 不加锁，调用方负责串行访问（daemon 事件循环是唯一的修改者）。
type Store struct {
	factory    *network.Factory
	runtime    engine.Inspector
	networks   map[string]network.Network
	containers map[string]*Container
}

// NewStore 创建空的配置存储
func NewStore(factory *network.Factory, runtime engine.Inspector) *Store {
	return &Store{
		factory:    factory,
		runtime:    runtime,
		networks:   make(map[string]network.Network),
		containers: make(map[string]*Container),
	}
}

// AddNetwork 创建网络，或在同名网络已存在时原样返回它（created 为 false）
func (s *Store) AddNetwork(typ, name string, destroyOnStop bool, cfg network.Config) (network.Network, bool, error) {
	if net, ok := s.networks[name]; ok {
		return net, false, nil
	}

	net, err := s.factory.New(typ, network.Options{
		Name:          name,
		DestroyOnStop: destroyOnStop,
		Config:        cfg,
	})
	if err != nil {
		return nil, false, err
	}

	s.networks[name] = net
	return net, true, nil
}

// GetNetwork 按名称查找网络
func (s *Store) GetNetwork(name string) (network.Network, error) {
	net, ok := s.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", nerrors.ErrNetworkNotFound, name)
	}
	return net, nil
}

// AddContainer 返回容器，不存在时创建
func (s *Store) AddContainer(name string) *Container {
	if c, ok := s.containers[name]; ok {
		return c
	}

	c := newContainer(name, s.runtime)
	s.containers[name] = c
	return c
}

// GetContainer 按名称查找容器
func (s *Store) GetContainer(name string) (*Container, error) {
	c, ok := s.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", nerrors.ErrContainerNotFound, name)
	}
	return c, nil
}

// Networks 返回全部网络（按名称排序）
func (s *Store) Networks() []network.Network {
	names := make([]string, 0, len(s.networks))
	for name := range s.networks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]network.Network, 0, len(names))
	for _, name := range names {
		out = append(out, s.networks[name])
	}
	return out
}

// Containers 返回全部容器（按名称排序）
func (s *Store) Containers() []*Container {
	names := make([]string, 0, len(s.containers))
	for name := range s.containers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Container, 0, len(names))
	for _, name := range names {
		out = append(out, s.containers[name])
	}
	return out
}

// ApplyAll 对所有运行中的容器应用完整配置。
// 单个容器失败只记录日志，不影响其他容器。
func (s *Store) ApplyAll(ctx context.Context) {
	for _, c := range s.Containers() {
		if !c.IsRunning(ctx) {
			continue
		}

		if err := c.Apply(ctx, false); err != nil {
			log.G(ctx).WithError(err).WithField("container", c.Name()).Warn("failed to apply container configuration")
		}
	}
}

// Flush 清空全部网络和容器
func (s *Store) Flush() {
	s.networks = make(map[string]network.Network)
	s.containers = make(map[string]*Container)
}
