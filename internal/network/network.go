// Package network 实现 netcfg 的网络抽象：
// 按类型注册的网络实现、附加配置校验、容器反向引用记录，以及把声明的附加状态落实为宿主机资源。
package network

import (
	"context"
	"sort"
)

// Config 是附加（或网络）配置文档，键值语义由具体网络类型定义
type Config map[string]interface{}

// Endpoint 是被附加网络的容器
type Endpoint interface {
	// Name 返回容器名
	Name() string

	// Namespace 返回容器网络命名空间句柄，容器未运行时返回 false
	Namespace(ctx context.Context) (string, bool)
}

// Network 是所有网络类型必须满足的契约
type Network interface {
	// Name 返回网络名，在配置存储中唯一
	Name() string

	// Type 返回类型标签
	Type() string

	// DestroyOnStop 返回声明的 destroy_on_stop 标志（当前仅持久化）
	DestroyOnStop() bool

	// Validate 校验附加配置，失败返回 *ConfigError，不修改任何状态
	Validate(cfg Config) error

	// Attach 记录容器反向引用，不触碰宿主机资源
	Attach(container string)

	// Detach 移除容器反向引用，不触碰宿主机资源
	Detach(container string)

	// IsAttached 返回容器是否附加在此网络上
	IsAttached(container string) bool

	// Containers 返回已附加的容器名（有序）
	Containers() []string

	// Apply 为运行中的容器创建（detach 为 true 时拆除）宿主机资源。
	// 这是唯一允许修改宿主机资源的操作。
	Apply(ctx context.Context, ep Endpoint, cfg Config, detach bool) error

	// Document 返回可序列化的网络描述
	Document() Document
}

// Document 是网络的持久化形式。
// name、type、destroy_on_stop 是所有类型共有的字段，Config 保存类型特有的选项。
type Document struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	DestroyOnStop bool   `json:"destroy_on_stop"`
	Config        Config `json:"config,omitempty"`
}

// Base 实现所有网络类型共有的名称、标志和反向引用记录
type Base struct {
	name          string
	destroyOnStop bool
	containers    map[string]struct{}
}

// NewBase 创建 Base
func NewBase(name string, destroyOnStop bool) Base {
	return Base{
		name:          name,
		destroyOnStop: destroyOnStop,
		containers:    make(map[string]struct{}),
	}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) DestroyOnStop() bool {
	return b.destroyOnStop
}

func (b *Base) Attach(container string) {
	b.containers[container] = struct{}{}
}

func (b *Base) Detach(container string) {
	delete(b.containers, container)
}

func (b *Base) IsAttached(container string) bool {
	_, ok := b.containers[container]
	return ok
}

func (b *Base) Containers() []string {
	names := make([]string, 0, len(b.containers))
	for name := range b.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
