package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"netcfg/internal/log"
	nerrors "netcfg/pkg/errors"
	"netcfg/pkg/idutil"
)

// Docker 通过 Docker Engine API 实现 Runtime
type Docker struct {
	client *client.Client
}

// NewDocker 创建连接到指定 daemon 地址的 Docker 运行时。
// host 为空时使用 DOCKER_HOST 等环境变量。
func NewDocker(host string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &Docker{client: cli}, nil
}

// Close 关闭底层连接
func (d *Docker) Close() error {
	return d.client.Close()
}

// Inspect 查询容器运行状态
func (d *Docker) Inspect(ctx context.Context, name string) (State, error) {
	resp, err := d.client.ContainerInspect(ctx, name)
	if err != nil {
		return State{}, fmt.Errorf("%w: inspect %s: %v", nerrors.ErrRuntimeQuery, name, err)
	}

	if resp.State == nil {
		return State{}, nil
	}

	return State{
		Running: resp.State.Running,
		Pid:     resp.State.Pid,
	}, nil
}

// Events 订阅容器启停事件
func (d *Docker) Events(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event)
	errc := make(chan error, 1)

	messages, errs := d.client.Events(ctx, events.ListOptions{
		Filters: eventFilters(),
	})

	go func() {
		defer close(out)

		for {
			select {
			case msg := <-messages:
				ev, ok := Normalize(msg)
				if !ok {
					continue
				}

				if ev.Name == "" {
					ev.Name = d.lookupName(ctx, ev.ContainerID)
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case err := <-errs:
				if err == nil {
					err = fmt.Errorf("event stream closed")
				}
				errc <- fmt.Errorf("%w: %v", nerrors.ErrEventStream, err)
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc
}

// lookupName 在事件未携带名称时通过 inspect 获取容器名，
// 非完整 ID 原样返回
func (d *Docker) lookupName(ctx context.Context, id string) string {
	if !idutil.IsFullID(id) {
		return id
	}

	resp, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		log.G(ctx).WithError(err).WithField("container_id", idutil.ShortID(id)).Debug("failed to resolve container name")
		return id
	}
	return strings.TrimPrefix(resp.Name, "/")
}

// Normalize 将 Docker 事件转换为 netcfg 事件。
// 只关心容器的 start、stop、die，其他事件返回 false。
func Normalize(msg events.Message) (Event, bool) {
	if string(msg.Type) != "container" {
		return Event{}, false
	}

	var status Status
	switch string(msg.Action) {
	case "start":
		status = StatusStart
	case "stop", "die":
		status = StatusStop
	default:
		return Event{}, false
	}

	return Event{
		Status:      status,
		ContainerID: msg.Actor.ID,
		Name:        strings.TrimPrefix(msg.Actor.Attributes["name"], "/"),
	}, true
}

// eventFilters 只订阅需要的容器事件
func eventFilters() filters.Args {
	f := filters.NewArgs()
	f.Add("type", "container")
	f.Add("event", "start")
	f.Add("event", "stop")
	f.Add("event", "die")
	return f
}
