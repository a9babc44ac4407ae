package network

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"netcfg/internal/log"
	"netcfg/internal/metrics"
)

// TypeBridge 是 bridge 网络的类型标签
const TypeBridge = "bridge"

// maxIfnameLen 是 Linux 接口名的最大长度（IFNAMSIZ - 1）
const maxIfnameLen = 15

// Bridge 将容器通过 veth pair 接入宿主机上与网络同名的 bridge 设备
type Bridge struct {
	Base

	env Env

	// addresses 是 bridge 设备创建时配置的地址（如网关）
	addresses []string

	// masquerade 是需要出网 NAT 的子网，为空表示不配置
	masquerade string

	// mtu 是 veth pair 的 MTU
	mtu int

	// mtuSet 表示 mtu 由网络配置显式指定，此时持久化，不随 daemon 默认值变化
	mtuSet bool
}

// bridgeAttachment 是解析后的附加配置
type bridgeAttachment struct {
	addresses []string
	ifname    string
}

func newBridge(env Env, opts Options) (Network, error) {
	if opts.Name == "" {
		return nil, configErrorf("Network name is required.")
	}
	if len(opts.Name) > maxIfnameLen {
		return nil, configErrorf("Invalid bridge name: %s", opts.Name)
	}

	b := &Bridge{
		Base: NewBase(opts.Name, opts.DestroyOnStop),
		env:  env,
		mtu:  env.MTU,
	}

	addresses, err := parseAddresses(opts.Config, true)
	if err != nil {
		return nil, err
	}
	b.addresses = addresses

	if v, ok := opts.Config["masquerade"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, configErrorf("Invalid masquerade subnet: %v", v)
		}
		pfx, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, configErrorf("Invalid masquerade subnet: %s", s)
		}
		b.masquerade = pfx.Masked().String()
	}

	if v, ok := opts.Config["mtu"]; ok && v != nil {
		mtu, ok := toInt(v)
		if !ok || mtu < 68 || mtu > 65535 {
			return nil, configErrorf("Invalid MTU: %v", v)
		}
		b.mtu = mtu
		b.mtuSet = true
	}

	if b.mtu <= 0 {
		b.mtu = DefaultMTU
	}

	return b, nil
}

func (b *Bridge) String() string {
	return fmt.Sprintf("<BridgeNetwork '%s'>", b.Name())
}

// Type 返回类型标签
func (b *Bridge) Type() string {
	return TypeBridge
}

// Document 返回持久化形式，bridge 选项保存在 Config 中
func (b *Bridge) Document() Document {
	doc := Document{
		Name:          b.Name(),
		Type:          TypeBridge,
		DestroyOnStop: b.DestroyOnStop(),
	}

	cfg := Config{}
	if len(b.addresses) > 0 {
		addrs := make([]interface{}, len(b.addresses))
		for i, a := range b.addresses {
			addrs[i] = a
		}
		cfg["address"] = addrs
	}
	if b.masquerade != "" {
		cfg["masquerade"] = b.masquerade
	}
	if b.mtuSet {
		cfg["mtu"] = b.mtu
	}
	if len(cfg) > 0 {
		doc.Config = cfg
	}

	return doc
}

// Validate 校验附加配置
func (b *Bridge) Validate(cfg Config) error {
	_, err := b.parseAttachment(cfg)
	return err
}

func (b *Bridge) parseAttachment(cfg Config) (bridgeAttachment, error) {
	addresses, err := parseAddresses(cfg, false)
	if err != nil {
		return bridgeAttachment{}, err
	}

	att := bridgeAttachment{
		addresses: addresses,
		ifname:    b.Name(),
	}

	if v, ok := cfg["ifname"]; ok && v != nil {
		s, ok := v.(string)
		if !ok || !validIfname(s) {
			return bridgeAttachment{}, configErrorf("Invalid interface name: %v", v)
		}
		att.ifname = s
	}

	return att, nil
}

// Apply 为运行中的容器配置 bridge 附加。
//
// 步骤依次为：确保 bridge 存在、建立命名空间记账链接、创建 veth pair、
// 宿主端加入 bridge 并启动、容器端移入命名空间并重命名、配置地址、启动容器端。
// 任一步骤失败都会记录日志并终止本次 Apply；单个地址失败只记录警告。
func (b *Bridge) Apply(ctx context.Context, ep Endpoint, cfg Config, detach bool) error {
	ctx = log.WithLogger(ctx, log.G(ctx).WithFields(logrus.Fields{
		"network":   b.Name(),
		"container": ep.Name(),
	}))
	logger := log.G(ctx)

	if detach {
		// 容器停止后命名空间由运行时回收，容器端资源随之释放
		logger.Info("detaching network configuration from container")
		return nil
	}

	logger.Info("applying network configuration to container")

	att, err := b.parseAttachment(cfg)
	if err != nil {
		return b.fail(ctx, ep, StepValidate, err)
	}

	handle, ok := ep.Namespace(ctx)
	if !ok {
		return b.fail(ctx, ep, StepNamespace, fmt.Errorf("container is not running"))
	}

	if err := b.ensureBridge(ctx); err != nil {
		return b.fail(ctx, ep, StepBridge, err)
	}

	scope, err := AcquireNamespace(b.env.NamespaceDir, b.env.ProcRoot, handle)
	if err != nil {
		return b.fail(ctx, ep, StepNamespace, err)
	}
	defer func() {
		if err := scope.Close(); err != nil {
			logger.WithError(err).Warn("failed to remove namespace link")
		}
	}()

	return b.provision(ctx, ep, scope, att)
}

// provision 在已获得命名空间的前提下创建并配置 veth pair
func (b *Bridge) provision(ctx context.Context, ep Endpoint, scope *NamespaceScope, att bridgeAttachment) error {
	exec := b.env.Executor
	logger := log.G(ctx)

	host, guest := VethNames(ep.Name(), b.Name(), scope.Handle())
	logger = logger.WithFields(logrus.Fields{"veth_host": host, "veth_guest": guest})

	// veth pair 创建失败时不存在需要清理的残留
	if err := exec.AddVethPair(host, guest, b.mtu); err != nil {
		return b.fail(ctx, ep, StepLinkPair, err)
	}

	if err := exec.SetMaster(host, b.Name()); err != nil {
		b.deleteHostEnd(ctx, host)
		return b.fail(ctx, ep, StepHostJoin, err)
	}
	if err := exec.SetUp(host); err != nil {
		b.deleteHostEnd(ctx, host)
		return b.fail(ctx, ep, StepHostJoin, err)
	}

	// 移入后失败时容器端留在容器命名空间中，随命名空间一起回收
	if err := exec.MoveToNamespace(guest, scope.Path()); err != nil {
		b.deleteHostEnd(ctx, host)
		return b.fail(ctx, ep, StepGuestMove, err)
	}
	if err := exec.RenameInNamespace(scope.Path(), guest, att.ifname); err != nil {
		b.deleteHostEnd(ctx, host)
		return b.fail(ctx, ep, StepGuestMove, err)
	}

	for _, addr := range att.addresses {
		if err := exec.AddAddressInNamespace(scope.Path(), att.ifname, addr); err != nil {
			metrics.ProvisionFailures.WithLabelValues(b.Name(), StepAddress).Inc()
			logger.WithError(err).WithField("address", addr).
				Warnf("unable to configure address for guest interface %s", att.ifname)
		}
	}

	if err := exec.SetUpInNamespace(scope.Path(), att.ifname); err != nil {
		b.deleteHostEnd(ctx, host)
		return b.fail(ctx, ep, StepGuestUp, err)
	}

	logger.WithField("ifname", att.ifname).Info("network configuration applied")
	return nil
}

// ensureBridge 确保 bridge 设备存在，只在不存在时创建。
// 创建过程失败时尽力删除已部分创建的设备。
func (b *Bridge) ensureBridge(ctx context.Context) error {
	exec := b.env.Executor

	if !exec.LinkExists(b.Name()) {
		if err := b.createBridge(); err != nil {
			ignoreFailure(ctx, exec.DeleteLink(b.Name()), "cleanup of partially created bridge failed")
			return err
		}
		log.G(ctx).Info("bridge created")
	}

	if b.masquerade != "" {
		if err := exec.Masquerade(b.masquerade, b.Name()); err != nil {
			log.G(ctx).WithError(err).WithField("subnet", b.masquerade).Warn("failed to set up masquerade rule")
		}
	}

	return nil
}

func (b *Bridge) createBridge() error {
	exec := b.env.Executor

	if err := exec.AddBridge(b.Name()); err != nil {
		return err
	}
	for _, addr := range b.addresses {
		if err := exec.AddAddress(b.Name(), addr); err != nil {
			return err
		}
	}
	return exec.SetUp(b.Name())
}

func (b *Bridge) deleteHostEnd(ctx context.Context, host string) {
	ignoreFailure(ctx, b.env.Executor.DeleteLink(host), "cleanup of host veth failed")
}

// fail 记录失败步骤并返回 StepError
func (b *Bridge) fail(ctx context.Context, ep Endpoint, step string, err error) error {
	metrics.ProvisionFailures.WithLabelValues(b.Name(), step).Inc()
	log.G(ctx).WithError(err).WithField("step", step).Error("network configuration failed")

	return &StepError{
		Network:   b.Name(),
		Container: ep.Name(),
		Step:      step,
		Err:       err,
	}
}

// VethNames 由容器名、网络名和命名空间句柄确定性地生成 veth pair 两端的名称
func VethNames(container, network, handle string) (host, guest string) {
	id := digest.FromString(container + network + handle).Encoded()[:7]
	return "ve" + id + "1", "ve" + id + "2"
}

// parseAddresses 解析 address 列表。
// 附加配置允许不带前缀的地址（按单主机地址处理），bridge 地址必须带前缀。
func parseAddresses(cfg Config, requirePrefix bool) ([]string, error) {
	v, ok := cfg["address"]
	if !ok || v == nil {
		return nil, nil
	}

	list, ok := v.([]interface{})
	if !ok {
		if strs, isStrs := v.([]string); isStrs {
			list = make([]interface{}, len(strs))
			for i, s := range strs {
				list[i] = s
			}
		} else {
			return nil, configErrorf("Invalid address configuration.")
		}
	}

	addresses := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, configErrorf("Invalid IPv4/IPv6 address: %v", item)
		}

		cidr, ok := normalizeAddress(s, requirePrefix)
		if !ok {
			return nil, configErrorf("Invalid IPv4/IPv6 address: %s", s)
		}
		addresses = append(addresses, cidr)
	}

	return addresses, nil
}

// normalizeAddress 返回地址的 CIDR 形式。
// IPv4 的前缀也可以写成点分掩码（10.0.0.2/255.255.255.0）或反掩码（10.0.0.2/0.0.0.255）。
func normalizeAddress(s string, requirePrefix bool) (string, bool) {
	if pfx, err := netip.ParsePrefix(s); err == nil {
		return pfx.String(), true
	}
	if addr, mask, ok := strings.Cut(s, "/"); ok {
		return parseDottedMask(addr, mask)
	}
	if requirePrefix {
		return "", false
	}

	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return "", false
	}
	return netip.PrefixFrom(addr, addr.BitLen()).String(), true
}

// parseDottedMask 把点分形式的掩码换算成前缀长度，非连续掩码视为无效
func parseDottedMask(addr, mask string) (string, bool) {
	a, err := netip.ParseAddr(addr)
	if err != nil || !a.Is4() {
		return "", false
	}
	m, err := netip.ParseAddr(mask)
	if err != nil || !m.Is4() {
		return "", false
	}

	b := m.As4()
	if ones, bits := net.IPMask(b[:]).Size(); bits != 0 {
		return netip.PrefixFrom(a, ones).String(), true
	}

	// 反掩码
	for i := range b {
		b[i] = ^b[i]
	}
	if ones, bits := net.IPMask(b[:]).Size(); bits != 0 {
		return netip.PrefixFrom(a, ones).String(), true
	}
	return "", false
}

func validIfname(s string) bool {
	if s == "" || len(s) > maxIfnameLen || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/: \t\n")
}

// toInt 接受 JSON 数字（float64）和整型
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
