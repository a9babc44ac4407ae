// Package engine 定义 netcfg 依赖的容器运行时能力：
// 按名称查询容器运行状态与网络命名空间句柄，以及订阅容器启停事件流。
package engine

import (
	"context"
	"strconv"
)

// Status 是归一化后的容器生命周期状态
type Status string

const (
	// StatusStart 表示容器已启动
	StatusStart Status = "start"

	// StatusStop 表示容器已停止（包括 stop 和 die）
	StatusStop Status = "stop"
)

// State 是一次 inspect 的结果
type State struct {
	// Running 表示容器当前是否在运行
	Running bool

	// Pid 是容器 init 进程在宿主机上的 PID，容器未运行时为 0
	Pid int
}

// Namespace 返回容器网络命名空间句柄（init 进程 PID 的字符串形式）。
// 容器未运行时返回 false。
func (s State) Namespace() (string, bool) {
	if !s.Running || s.Pid <= 0 {
		return "", false
	}
	return strconv.Itoa(s.Pid), true
}

// Event 是归一化后的容器生命周期事件
type Event struct {
	Status Status

	// ContainerID 是运行时分配的容器 ID
	ContainerID string

	// Name 是容器名（不带前导 "/"），netcfg 以它作为容器标识
	Name string
}

// Inspector 按容器名查询运行状态
type Inspector interface {
	Inspect(ctx context.Context, name string) (State, error)
}

// Runtime 是容器运行时的完整能力
type Runtime interface {
	Inspector

	// Events 订阅生命周期事件流。
	// 事件流断开或解码失败时通过 error channel 报告一次并结束，调用方负责重新订阅。
	Events(ctx context.Context) (<-chan Event, <-chan error)
}
