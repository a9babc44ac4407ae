package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"netcfg/internal/log"
	"netcfg/internal/metrics"
	"netcfg/internal/network"
	"netcfg/internal/state"
	nerrors "netcfg/pkg/errors"
)

// 控制协议方法
const (
	MethodGetConfig     = "get_config"
	MethodSetConfig     = "set_config"
	MethodFlush         = "flush"
	MethodCreateNetwork = "create_network"
	MethodAttach        = "attach"
	MethodDetach        = "detach"
)

// 返回给调用方的消息
const (
	MsgNetworkCreated     = "Network created."
	MsgNetworkExists      = "Network already exists."
	MsgUnknownNetworkType = "Unknown network type."
	MsgNetworkNotFound    = "Network does not exist."
	MsgContainerNotFound  = "Container does not exist."
	MsgNetworkAttached    = "Network attached."
	MsgNetworkDetached    = "Network detached."
	MsgMalformed          = "Malformed message received."

	msgConfigErrorPrefix  = "Network configuration error: "
	msgPersistErrorPrefix = "Failed to persist configuration: "
)

// Request 是一条控制请求。
// 指针字段用于区分字段缺失和零值。
type Request struct {
	Method        *string         `json:"method"`
	Type          *string         `json:"type,omitempty"`
	Name          *string         `json:"name,omitempty"`
	DestroyOnStop *bool           `json:"destroy_on_stop,omitempty"`
	Container     *string         `json:"container,omitempty"`
	Network       *string         `json:"network,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// Response 是一条控制响应，空响应编码为 {}
type Response struct {
	Success string            `json:"success,omitempty"`
	Error   string            `json:"error,omitempty"`
	Network *network.Document `json:"network,omitempty"`
	Config  *state.Document   `json:"config,omitempty"`
}

// handler 执行控制请求。
// 只在 daemon 事件循环中调用，因此对 Store 和 Persister 的访问天然串行。
type handler struct {
	store     *state.Store
	persister *state.Persister
}

// Handle 解码并执行一条请求
func (h *handler) Handle(ctx context.Context, raw []byte) Response {
	req, err := decodeRequest(raw)
	if err != nil {
		log.G(ctx).WithError(err).Warn("malformed control message")
		metrics.ControlRequests.WithLabelValues("invalid", "error").Inc()
		return Response{Error: MsgMalformed}
	}

	method := *req.Method
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("method", method))

	resp := h.dispatch(ctx, req)
	result := "success"
	if resp.Error != "" {
		result = "error"
		log.G(ctx).WithField("error", resp.Error).Info("control request rejected")
	} else {
		log.G(ctx).Info("control request processed")
	}
	metrics.ControlRequests.WithLabelValues(metricMethod(method), result).Inc()

	return resp
}

func (h *handler) dispatch(ctx context.Context, req *Request) Response {
	switch *req.Method {
	case MethodGetConfig:
		doc := h.store.Serialize()
		return Response{Config: &doc}
	case MethodSetConfig:
		return h.setConfig(ctx, req)
	case MethodFlush:
		return h.mutate(ctx, func() (Response, bool) {
			h.store.Flush()
			return Response{}, true
		})
	case MethodCreateNetwork:
		return h.createNetwork(ctx, req)
	case MethodAttach:
		return h.attach(ctx, req)
	case MethodDetach:
		return h.detach(ctx, req)
	default:
		log.G(ctx).WithError(fmt.Errorf("%w: %s", nerrors.ErrUnknownMethod, *req.Method)).Debug("unsupported method")
		return Response{Error: fmt.Sprintf("Unknown method '%s'.", *req.Method)}
	}
}

func (h *handler) setConfig(ctx context.Context, req *Request) Response {
	if isNull(req.Config) {
		return Response{Error: MsgMalformed}
	}

	doc, err := state.DecodeDocument(req.Config)
	if err != nil {
		log.G(ctx).WithError(err).Warn("invalid configuration document")
		return Response{Error: MsgMalformed}
	}

	return h.mutate(ctx, func() (Response, bool) {
		if err := h.store.Deserialize(doc); err != nil {
			log.G(ctx).WithError(err).Warn("invalid configuration document")
			return Response{Error: MsgMalformed}, false
		}
		return Response{}, true
	})
}

func (h *handler) createNetwork(ctx context.Context, req *Request) Response {
	if req.Type == nil || req.Name == nil {
		return Response{Error: MsgMalformed}
	}
	cfg, err := decodeConfig(req.Config)
	if err != nil {
		return Response{Error: MsgMalformed}
	}
	destroyOnStop := req.DestroyOnStop != nil && *req.DestroyOnStop

	return h.mutate(ctx, func() (Response, bool) {
		net, created, err := h.store.AddNetwork(*req.Type, *req.Name, destroyOnStop, cfg)
		if err != nil {
			return errorResponse(err), false
		}

		doc := net.Document()
		if !created {
			return Response{Error: MsgNetworkExists, Network: &doc}, false
		}
		return Response{Success: MsgNetworkCreated, Network: &doc}, true
	})
}

func (h *handler) attach(ctx context.Context, req *Request) Response {
	if req.Container == nil || req.Network == nil {
		return Response{Error: MsgMalformed}
	}
	cfg, err := decodeConfig(req.Config)
	if err != nil {
		return Response{Error: MsgMalformed}
	}

	net, err := h.store.GetNetwork(*req.Network)
	if err != nil {
		return Response{Error: MsgNetworkNotFound}
	}

	// 校验先于创建容器，失败时存储保持原状
	if err := net.Validate(cfg); err != nil {
		return errorResponse(err)
	}

	return h.mutate(ctx, func() (Response, bool) {
		c := h.store.AddContainer(*req.Container)
		if err := c.Attach(ctx, net, cfg); err != nil {
			return errorResponse(err), true
		}
		return Response{Success: MsgNetworkAttached}, true
	})
}

func (h *handler) detach(ctx context.Context, req *Request) Response {
	if req.Container == nil || req.Network == nil {
		return Response{Error: MsgMalformed}
	}

	net, err := h.store.GetNetwork(*req.Network)
	if err != nil {
		return Response{Error: MsgNetworkNotFound}
	}
	c, err := h.store.GetContainer(*req.Container)
	if err != nil {
		return Response{Error: MsgContainerNotFound}
	}

	return h.mutate(ctx, func() (Response, bool) {
		if err := c.Detach(ctx, net); err != nil {
			return errorResponse(err), false
		}
		return Response{Success: MsgNetworkDetached}, true
	})
}

// mutate 执行一次修改并持久化。
// fn 返回 false 表示没有修改；持久化失败时恢复修改前的存储内容，磁盘上的旧文件保持不变。
func (h *handler) mutate(ctx context.Context, fn func() (Response, bool)) Response {
	snapshot := h.store.Serialize()

	resp, changed := fn()
	if !changed {
		return resp
	}

	if err := h.persister.Save(h.store.Serialize()); err != nil {
		log.G(ctx).WithError(err).Error("failed to persist configuration")
		if rerr := h.store.Deserialize(snapshot); rerr != nil {
			log.G(ctx).WithError(rerr).Error("failed to restore configuration snapshot")
		}
		return Response{Error: msgPersistErrorPrefix + err.Error()}
	}

	return resp
}

// errorResponse 将存储和网络层的错误映射为响应文本
func errorResponse(err error) Response {
	var cfgErr *network.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return Response{Error: msgConfigErrorPrefix + cfgErr.Detail}
	case errors.Is(err, nerrors.ErrUnknownNetworkType):
		return Response{Error: MsgUnknownNetworkType}
	case errors.Is(err, nerrors.ErrNetworkNotFound):
		return Response{Error: MsgNetworkNotFound}
	case errors.Is(err, nerrors.ErrContainerNotFound):
		return Response{Error: MsgContainerNotFound}
	default:
		return Response{Error: err.Error()}
	}
}

func decodeRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", nerrors.ErrMalformedRequest, err)
	}
	if req.Method == nil {
		return nil, fmt.Errorf("%w: missing method", nerrors.ErrMalformedRequest)
	}
	return &req, nil
}

// decodeConfig 解析可选的 config 对象，缺失或 null 时返回 nil
func decodeConfig(raw json.RawMessage) (network.Config, error) {
	if isNull(raw) {
		return nil, nil
	}

	var cfg network.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config: %v", nerrors.ErrMalformedRequest, err)
	}
	return cfg, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// metricMethod 限制指标标签的取值范围
func metricMethod(method string) string {
	switch method {
	case MethodGetConfig, MethodSetConfig, MethodFlush, MethodCreateNetwork, MethodAttach, MethodDetach:
		return method
	default:
		return "unknown"
	}
}
