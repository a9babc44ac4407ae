// Package daemon 实现 netcfg daemon。
//
// 控制网关和事件桥是两个独立的输入源，它们都只向单一的事件循环投递消息；
// 事件循环是配置存储唯一的修改者，逐条处理到底（包括持久化）后才处理下一条，
// 因此存储本身不需要加锁。
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"netcfg/internal/engine"
	"netcfg/internal/log"
	"netcfg/internal/metrics"
	"netcfg/internal/state"
)

// Config 是 daemon 的依赖和运行参数
type Config struct {
	// Store 是配置存储，启动时用持久化文档替换其内容
	Store *state.Store

	// Persister 读写持久化文档
	Persister *state.Persister

	// Runtime 是容器运行时
	Runtime engine.Runtime

	// Listener 是控制接口，daemon 退出时关闭
	Listener net.Listener

	// EventBackoff 是事件流失败后重新订阅前的等待时间
	EventBackoff time.Duration

	// RequestTimeout 是控制连接的空闲读超时，0 表示不限制
	RequestTimeout time.Duration

	// WatchConfig 启用配置文件外部修改的自动重新加载
	WatchConfig bool

	// MetricsAddr 非空时在该地址暴露 Gatherer 中的指标
	MetricsAddr string
	Gatherer    prometheus.Gatherer
}

// Daemon 持有配置存储并运行事件循环
type Daemon struct {
	cfg       Config
	store     *state.Store
	persister *state.Persister
	handler   *handler

	requests chan *request
	reloads  chan struct{}
	pipe     *eventPipe

	ready chan struct{}
}

// New 创建 Daemon
func New(cfg Config) *Daemon {
	return &Daemon{
		cfg:       cfg,
		store:     cfg.Store,
		persister: cfg.Persister,
		handler:   &handler{store: cfg.Store, persister: cfg.Persister},
		requests:  make(chan *request),
		reloads:   make(chan struct{}, 1),
		pipe:      newEventPipe(),
		ready:     make(chan struct{}),
	}
}

// Ready 返回的 channel 在启动完成（配置已加载并应用，开始处理请求和事件）后关闭
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run 加载配置、对运行中的容器应用配置，然后处理控制请求和容器事件直到 ctx 结束。
// 只有启动阶段的错误会返回；运行期间的错误都在各自的处理点记录。
func (d *Daemon) Run(ctx context.Context) error {
	ctx = log.WithModule(ctx, "daemon")
	defer d.cfg.Listener.Close()

	if err := d.loadConfig(ctx); err != nil {
		return err
	}

	log.G(ctx).Info("applying configuration to all running containers")
	d.store.ApplyAll(ctx)

	var watcher *configWatcher
	if d.cfg.WatchConfig {
		w, err := newConfigWatcher(d.persister.Path())
		if err != nil {
			return err
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	bridge := &eventBridge{
		runtime: d.cfg.Runtime,
		backoff: d.cfg.EventBackoff,
		sink:    d.pipe.queue,
	}
	run(bridge.run)

	gw := &gateway{
		listener: d.cfg.Listener,
		requests: d.requests,
		timeout:  d.cfg.RequestTimeout,
	}
	run(gw.serve)

	if watcher != nil {
		run(func(ctx context.Context) { watcher.run(ctx, d.reloads) })
	}

	if d.cfg.MetricsAddr != "" && d.cfg.Gatherer != nil {
		srv := newMetricsServer(d.cfg.MetricsAddr, d.cfg.Gatherer)
		run(func(ctx context.Context) { serveMetrics(ctx, srv) })
	}

	log.G(ctx).WithField("listen", d.cfg.Listener.Addr().String()).Info("netcfg daemon started")
	close(d.ready)

	d.loop(ctx)

	cancel()
	d.cfg.Listener.Close()
	wg.Wait()
	d.pipe.Close()

	log.G(ctx).Info("netcfg daemon stopped")
	return nil
}

// loadConfig 用持久化文档替换存储内容，文档不存在时写入空文档
func (d *Daemon) loadConfig(ctx context.Context) error {
	doc, found, err := d.persister.Load()
	if err != nil {
		return err
	}

	if !found {
		log.G(ctx).WithField("path", d.persister.Path()).Info("no configuration found, writing empty configuration")
		return d.persister.Save(d.store.Serialize())
	}

	if err := d.store.Deserialize(doc); err != nil {
		return fmt.Errorf("load configuration %s: %w", d.persister.Path(), err)
	}

	log.G(ctx).WithFields(logrus.Fields{
		"networks":   len(doc.Networks),
		"containers": len(doc.Containers),
	}).Info("configuration loaded")
	return nil
}

// loop 是事件循环，每条消息处理完成后才等待下一条
func (d *Daemon) loop(ctx context.Context) {
	for {
		select {
		case req := <-d.requests:
			req.reply <- d.handler.Handle(req.ctx, req.raw)

		case item := <-d.pipe.C():
			ev, ok := item.(engine.Event)
			if !ok {
				log.G(ctx).Warnf("unexpected event type %T", item)
				continue
			}
			d.handleEvent(ctx, ev)

		case <-d.reloads:
			d.reload(ctx)

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent 在容器启动时应用全部附加，停止时执行拆除
func (d *Daemon) handleEvent(ctx context.Context, ev engine.Event) {
	metrics.RuntimeEvents.WithLabelValues(string(ev.Status)).Inc()

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("container", ev.Name))
	log.G(ctx).Infof("got container event '%s'", ev.Status)

	c, err := d.store.GetContainer(ev.Name)
	if err != nil {
		// 没有网络配置的容器直接跳过
		log.G(ctx).Info("no network configuration found for container")
		return
	}

	switch ev.Status {
	case engine.StatusStart:
		err = c.Apply(ctx, false)
	case engine.StatusStop:
		err = c.Apply(ctx, true)
	default:
		return
	}

	if err != nil {
		log.G(ctx).WithError(err).Warn("failed to apply container configuration")
	}
}

// reload 处理配置文件的外部修改。
// 文件在事件循环中读取，因此看到的总是最近一次持久化之后的内容。
// 解析或重建失败时保留当前配置；成功后对运行中的容器重新应用。
func (d *Daemon) reload(ctx context.Context) {
	data, err := os.ReadFile(d.persister.Path())
	if err != nil {
		// 可能正处于 rename 过程中，等待下一次通知
		log.G(ctx).WithError(err).Debug("failed to read configuration file")
		return
	}

	if !d.persister.Changed(data) {
		return
	}
	d.persister.Observe(data)

	doc, err := state.DecodeDocument(data)
	if err != nil {
		log.G(ctx).WithError(err).Warn("ignoring invalid configuration file")
		return
	}

	if err := d.store.Deserialize(doc); err != nil {
		log.G(ctx).WithError(err).Warn("ignoring invalid configuration file")
		return
	}

	log.G(ctx).Info("configuration reloaded from file")
	d.store.ApplyAll(ctx)
}
