package network

import (
	"fmt"
	"sort"

	nerrors "netcfg/pkg/errors"
)

// DefaultMTU 是 veth 对的默认 MTU
const DefaultMTU = 1500

// Env 是网络实现共享的宿主机依赖
type Env struct {
	// Executor 执行链路、地址和命名空间操作
	Executor Executor

	// NamespaceDir 是命名空间记账符号链接目录（如 /var/run/netns）
	NamespaceDir string

	// ProcRoot 是 proc 文件系统挂载点（如 /proc）
	ProcRoot string

	// MTU 是 veth 对的默认 MTU
	MTU int
}

// Options 是创建网络时的参数
type Options struct {
	Name          string
	DestroyOnStop bool
	Config        Config
}

// Constructor 按选项构造某一类型的网络
type Constructor func(env Env, opts Options) (Network, error)

// registry 是类型标签到实现的静态映射
var registry = map[string]Constructor{
	TypeBridge: newBridge,
}

// Types 返回已注册的类型标签
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Factory 按类型标签构造网络
type Factory struct {
	env Env
}

// NewFactory 创建 Factory，未设置的 MTU 使用 DefaultMTU
func NewFactory(env Env) *Factory {
	if env.MTU <= 0 {
		env.MTU = DefaultMTU
	}
	return &Factory{env: env}
}

// New 构造指定类型的网络，类型未注册时返回 ErrUnknownNetworkType
func (f *Factory) New(typ string, opts Options) (Network, error) {
	ctor, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", nerrors.ErrUnknownNetworkType, typ)
	}
	return ctor(f.env, opts)
}

// FromDocument 从持久化形式重建网络（不含反向引用）
func (f *Factory) FromDocument(doc Document) (Network, error) {
	return f.New(doc.Type, Options{
		Name:          doc.Name,
		DestroyOnStop: doc.DestroyOnStop,
		Config:        doc.Config,
	})
}
