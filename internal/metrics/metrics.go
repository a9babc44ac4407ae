// Package metrics 定义 netcfg 导出的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netcfg"

var (
	// ControlRequests 按方法和结果统计控制请求
	ControlRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_requests_total",
		Help:      "Control requests processed, by method and result.",
	}, []string{"method", "result"})

	// RuntimeEvents 按状态统计收到的容器生命周期事件
	RuntimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runtime_events_total",
		Help:      "Container lifecycle events received from the runtime, by status.",
	}, []string{"status"})

	// ProvisionFailures 按网络和步骤统计失败的资源配置步骤
	ProvisionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provision_failures_total",
		Help:      "Failed host provisioning steps, by network and step.",
	}, []string{"network", "step"})

	// EventStreamFailures 统计事件流断开次数
	EventStreamFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_stream_failures_total",
		Help:      "Container runtime event stream failures.",
	})
)

// Register 将所有指标注册到 reg
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		ControlRequests,
		RuntimeEvents,
		ProvisionFailures,
		EventStreamFailures,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
