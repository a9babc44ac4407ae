package state

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"netcfg/internal/engine"
	"netcfg/internal/log"
	"netcfg/internal/network"
	nerrors "netcfg/pkg/errors"
)

// NotAttachedError 表示容器没有附加到该网络
type NotAttachedError struct {
	Container string
	Network   string
}

func (e *NotAttachedError) Error() string {
	return fmt.Sprintf("Container '%s' is not attached to network '%s'!", e.Container, e.Network)
}

// Is 让 errors.Is(err, ErrNotAttached) 成立
func (e *NotAttachedError) Is(target error) bool {
	return target == nerrors.ErrNotAttached
}

// attachment 是容器到网络的一条附加关系
type attachment struct {
	network network.Network
	config  network.Config
}

// Container 记录一个容器的全部网络附加。
// 容器名即运行时中的容器名。
type Container struct {
	name     string
	runtime  engine.Inspector
	networks map[string]*attachment
}

func newContainer(name string, runtime engine.Inspector) *Container {
	return &Container{
		name:     name,
		runtime:  runtime,
		networks: make(map[string]*attachment),
	}
}

// Name 返回容器名
func (c *Container) Name() string {
	return c.name
}

// IsRunning 查询容器是否在运行。
// 任何查询失败（容器不存在、连接错误）都视为未运行。
func (c *Container) IsRunning(ctx context.Context) bool {
	st, err := c.runtime.Inspect(ctx, c.name)
	if err != nil {
		log.G(ctx).WithError(err).WithField("container", c.name).Debug("container state query failed")
		return false
	}
	return st.Running
}

// Namespace 返回容器网络命名空间句柄，容器未运行时返回 false
func (c *Container) Namespace(ctx context.Context) (string, bool) {
	st, err := c.runtime.Inspect(ctx, c.name)
	if err != nil {
		log.G(ctx).WithError(err).WithField("container", c.name).Debug("container state query failed")
		return "", false
	}
	return st.Namespace()
}

// Networks 返回已附加网络名到附加配置的映射（副本）
func (c *Container) Networks() map[string]network.Config {
	out := make(map[string]network.Config, len(c.networks))
	for name, att := range c.networks {
		out[name] = att.config
	}
	return out
}

// Attachment 返回与指定网络的附加配置
func (c *Container) Attachment(netName string) (network.Config, bool) {
	att, ok := c.networks[netName]
	if !ok {
		return nil, false
	}
	return att.config, true
}

// Attach 将网络附加到容器。
// 配置校验失败时不做任何修改；校验通过后先在双方记录附加关系，
// 容器运行中则立即应用配置。应用失败不回滚附加记录，只记录日志。
func (c *Container) Attach(ctx context.Context, net network.Network, cfg network.Config) error {
	if err := net.Validate(cfg); err != nil {
		return err
	}

	c.link(net, cfg)

	if c.IsRunning(ctx) {
		if err := net.Apply(ctx, c, cfg, false); err != nil {
			log.G(ctx).WithError(err).Debug("attachment recorded but not applied")
		}
	}

	return nil
}

// Detach 将网络从容器上移除，容器运行中则应用拆除
func (c *Container) Detach(ctx context.Context, net network.Network) error {
	att, ok := c.networks[net.Name()]
	if !ok || att.network != net {
		return &NotAttachedError{Container: c.name, Network: net.Name()}
	}

	c.unlink(net)

	if c.IsRunning(ctx) {
		if err := net.Apply(ctx, c, att.config, true); err != nil {
			log.G(ctx).WithError(err).Debug("detach recorded but not applied")
		}
	}

	return nil
}

// Apply 对全部附加依次应用配置，各附加互不影响
func (c *Container) Apply(ctx context.Context, detach bool) error {
	names := make([]string, 0, len(c.networks))
	for name := range c.networks {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		att := c.networks[name]
		if err := att.network.Apply(ctx, c, att.config, detach); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// link 在容器和网络两侧同时记录附加关系
func (c *Container) link(net network.Network, cfg network.Config) {
	c.networks[net.Name()] = &attachment{network: net, config: cfg}
	net.Attach(c.name)
}

// unlink 在容器和网络两侧同时移除附加关系
func (c *Container) unlink(net network.Network) {
	delete(c.networks, net.Name())
	net.Detach(c.name)
}
