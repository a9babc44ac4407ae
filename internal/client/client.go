// Package client 实现 netcfg 控制协议的客户端。
// 每次调用建立一条连接，发送一行 JSON 请求并读取一行 JSON 响应。
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"netcfg/internal/daemon"
	"netcfg/internal/network"
	"netcfg/internal/state"
)

// Dialer 建立到 daemon 的连接
type Dialer func(ctx context.Context) (net.Conn, error)

// Client 是控制协议客户端
type Client struct {
	dial Dialer
}

// New 创建连接到 unix socket 的客户端
func New(socket string) *Client {
	return NewWithDialer(func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socket)
	})
}

// NewWithDialer 使用自定义 Dialer 创建客户端
func NewWithDialer(dial Dialer) *Client {
	return &Client{dial: dial}
}

// GetConfig 获取完整配置文档
func (c *Client) GetConfig(ctx context.Context) (daemon.Response, error) {
	return c.call(ctx, request(daemon.MethodGetConfig))
}

// SetConfig 用 doc 整体替换 daemon 的配置
func (c *Client) SetConfig(ctx context.Context, doc state.Document) (daemon.Response, error) {
	req := request(daemon.MethodSetConfig)
	raw, err := json.Marshal(doc)
	if err != nil {
		return daemon.Response{}, fmt.Errorf("encode config: %w", err)
	}
	req.Config = raw
	return c.call(ctx, req)
}

// Flush 清空 daemon 的配置
func (c *Client) Flush(ctx context.Context) (daemon.Response, error) {
	return c.call(ctx, request(daemon.MethodFlush))
}

// CreateNetwork 创建网络，cfg 是网络类型特有的选项
func (c *Client) CreateNetwork(ctx context.Context, typ, name string, destroyOnStop bool, cfg network.Config) (daemon.Response, error) {
	req := request(daemon.MethodCreateNetwork)
	req.Type = &typ
	req.Name = &name
	req.DestroyOnStop = &destroyOnStop
	if err := setConfig(req, cfg); err != nil {
		return daemon.Response{}, err
	}
	return c.call(ctx, req)
}

// Attach 将网络附加到容器
func (c *Client) Attach(ctx context.Context, container, netName string, cfg network.Config) (daemon.Response, error) {
	req := request(daemon.MethodAttach)
	req.Container = &container
	req.Network = &netName
	if err := setConfig(req, cfg); err != nil {
		return daemon.Response{}, err
	}
	return c.call(ctx, req)
}

// Detach 将网络从容器上移除
func (c *Client) Detach(ctx context.Context, container, netName string) (daemon.Response, error) {
	req := request(daemon.MethodDetach)
	req.Container = &container
	req.Network = &netName
	return c.call(ctx, req)
}

func (c *Client) call(ctx context.Context, req *daemon.Request) (daemon.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return daemon.Response{}, fmt.Errorf("encode request: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return daemon.Response{}, fmt.Errorf("connect to netcfg daemon: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return daemon.Response{}, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return daemon.Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp daemon.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return daemon.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func request(method string) *daemon.Request {
	return &daemon.Request{Method: &method}
}

func setConfig(req *daemon.Request, cfg network.Config) error {
	if cfg == nil {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	req.Config = raw
	return nil
}
