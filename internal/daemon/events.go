package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-events"

	"netcfg/internal/engine"
	"netcfg/internal/log"
	"netcfg/internal/metrics"
	nerrors "netcfg/pkg/errors"
)

// eventBufferSize 是事件循环一侧 channel 的缓冲大小
const eventBufferSize = 64

// eventBridge 订阅容器运行时事件流，把归一化后的事件写入 sink。
// 它是纯生产者，不持有配置存储的任何引用。
type eventBridge struct {
	runtime engine.Runtime
	backoff time.Duration
	sink    events.Sink
}

// run 持续转发事件直到 ctx 结束。
// 事件流失败只记录日志，等待固定的 backoff 后重新订阅。
func (b *eventBridge) run(ctx context.Context) {
	ctx = log.WithModule(ctx, "events")

	for {
		err := b.forward(ctx)
		if ctx.Err() != nil {
			return
		}

		metrics.EventStreamFailures.Inc()
		log.G(ctx).WithError(err).Warnf("container event stream failed, resubscribing in %s", b.backoff)

		select {
		case <-time.After(b.backoff):
		case <-ctx.Done():
			return
		}
	}
}

// forward 处理一次订阅，返回导致订阅结束的错误
func (b *eventBridge) forward(ctx context.Context) error {
	evs, errs := b.runtime.Events(ctx)

	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return fmt.Errorf("%w: stream closed", nerrors.ErrEventStream)
				}
			}

			log.G(ctx).WithField("container", ev.Name).WithField("status", ev.Status).Debug("container event received")
			if err := b.sink.Write(ev); err != nil {
				// sink 只在关闭后返回错误，此时 daemon 正在退出
				return err
			}
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// eventPipe 是事件桥到事件循环的通道：
// 无界 Queue 保证生产者不阻塞，Channel 是事件循环读取的一端。
type eventPipe struct {
	queue   *events.Queue
	channel *events.Channel
}

func newEventPipe() *eventPipe {
	ch := events.NewChannel(eventBufferSize)
	return &eventPipe{
		queue:   events.NewQueue(ch),
		channel: ch,
	}
}

// C 返回事件循环读取的 channel
func (p *eventPipe) C() <-chan events.Event {
	return p.channel.C
}

// Close 先关闭 Channel 再关闭 Queue，Queue 排空剩余事件时不会阻塞
func (p *eventPipe) Close() {
	p.channel.Close()
	p.queue.Close()
}
