//go:build linux
// +build linux

package network

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NetlinkExecutor 通过 netlink 和 iptables 实现 Executor
type NetlinkExecutor struct {
	mu  sync.Mutex
	ipt map[iptables.Protocol]*iptables.IPTables

	// forwardPaths 是各协议族的转发开关
	forwardPaths map[iptables.Protocol]string
}

// NewNetlinkExecutor 创建 netlink 执行器
func NewNetlinkExecutor() (*NetlinkExecutor, error) {
	return &NetlinkExecutor{
		ipt: make(map[iptables.Protocol]*iptables.IPTables),
		forwardPaths: map[iptables.Protocol]string{
			iptables.ProtocolIPv4: "/proc/sys/net/ipv4/ip_forward",
			iptables.ProtocolIPv6: "/proc/sys/net/ipv6/conf/all/forwarding",
		},
	}, nil
}

// LinkExists 检查链路是否存在
func (e *NetlinkExecutor) LinkExists(name string) bool {
	_, err := netlink.LinkByName(name)
	return err == nil
}

// AddBridge 创建 bridge 设备
func (e *NetlinkExecutor) AddBridge(name string) error {
	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{
			Name: name,
		},
	}

	if err := netlink.LinkAdd(br); err != nil {
		return fmt.Errorf("create bridge %s: %w", name, err)
	}
	return nil
}

// AddAddress 为宿主机链路添加地址
func (e *NetlinkExecutor) AddAddress(link, cidr string) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return fmt.Errorf("get link %s: %w", link, err)
	}
	return addAddr(l, cidr)
}

// AddVethPair 创建 veth pair
func (e *NetlinkExecutor) AddVethPair(host, guest string, mtu int) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{
			Name: host,
			MTU:  mtu,
		},
		PeerName: guest,
	}

	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth pair %s/%s: %w", host, guest, err)
	}

	// 对端 MTU 不随 LinkAttrs 设置，单独设置
	peer, err := netlink.LinkByName(guest)
	if err != nil {
		return fmt.Errorf("get veth peer %s: %w", guest, err)
	}
	if err := netlink.LinkSetMTU(peer, mtu); err != nil {
		return fmt.Errorf("set mtu on %s: %w", guest, err)
	}
	return nil
}

// SetMaster 将链路加入 bridge
func (e *NetlinkExecutor) SetMaster(link, master string) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return fmt.Errorf("get link %s: %w", link, err)
	}

	br, err := netlink.LinkByName(master)
	if err != nil {
		return fmt.Errorf("get bridge %s: %w", master, err)
	}

	if err := netlink.LinkSetMaster(l, br); err != nil {
		return fmt.Errorf("attach %s to %s: %w", link, master, err)
	}
	return nil
}

// SetUp 启动链路
func (e *NetlinkExecutor) SetUp(link string) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return fmt.Errorf("get link %s: %w", link, err)
	}

	if err := netlink.LinkSetUp(l); err != nil {
		return fmt.Errorf("bring up %s: %w", link, err)
	}
	return nil
}

// DeleteLink 删除链路，删除 veth 任一端会同时删除另一端
func (e *NetlinkExecutor) DeleteLink(name string) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("get link %s: %w", name, err)
	}
	return netlink.LinkDel(l)
}

// MoveToNamespace 将链路移入记账路径指向的命名空间
func (e *NetlinkExecutor) MoveToNamespace(link, nsPath string) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return fmt.Errorf("get link %s: %w", link, err)
	}

	ns, err := netns.GetFromPath(nsPath)
	if err != nil {
		return fmt.Errorf("open namespace %s: %w", nsPath, err)
	}
	defer ns.Close()

	if err := netlink.LinkSetNsFd(l, int(ns)); err != nil {
		return fmt.Errorf("move %s to namespace %s: %w", link, nsPath, err)
	}
	return nil
}

// RenameInNamespace 在命名空间内重命名链路
func (e *NetlinkExecutor) RenameInNamespace(nsPath, link, newName string) error {
	return inNamespace(nsPath, func(h *netlink.Handle) error {
		l, err := h.LinkByName(link)
		if err != nil {
			return fmt.Errorf("get link %s: %w", link, err)
		}

		// rename 前确保为 down
		_ = h.LinkSetDown(l)
		if err := h.LinkSetName(l, newName); err != nil {
			return fmt.Errorf("rename %q -> %q: %w", link, newName, err)
		}
		return nil
	})
}

// AddAddressInNamespace 在命名空间内为链路添加地址
func (e *NetlinkExecutor) AddAddressInNamespace(nsPath, link, cidr string) error {
	return inNamespace(nsPath, func(h *netlink.Handle) error {
		l, err := h.LinkByName(link)
		if err != nil {
			return fmt.Errorf("get link %s: %w", link, err)
		}

		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return fmt.Errorf("parse address %s: %w", cidr, err)
		}

		if err := h.AddrAdd(l, addr); err != nil {
			return fmt.Errorf("add %s to %s: %w", cidr, link, err)
		}
		return nil
	})
}

// SetUpInNamespace 在命名空间内启动链路
func (e *NetlinkExecutor) SetUpInNamespace(nsPath, link string) error {
	return inNamespace(nsPath, func(h *netlink.Handle) error {
		l, err := h.LinkByName(link)
		if err != nil {
			return fmt.Errorf("get link %s: %w", link, err)
		}

		if err := h.LinkSetUp(l); err != nil {
			return fmt.Errorf("bring up %s: %w", link, err)
		}
		return nil
	})
}

// Masquerade 开启对应协议族的转发并设置 MASQUERADE 规则用于出网 NAT
// iptables -t nat -A POSTROUTING -s <subnet> ! -o <bridge> -j MASQUERADE
func (e *NetlinkExecutor) Masquerade(subnet, bridge string) error {
	proto := iptablesProtocol(subnet)

	// 不开启转发时 NAT 规则不会生效
	if err := enableIPForwarding(e.forwardPaths[proto]); err != nil {
		return err
	}

	ipt, err := e.iptablesFor(proto)
	if err != nil {
		return err
	}

	ruleSpec := []string{
		"-s", subnet,
		"!", "-o", bridge,
		"-j", "MASQUERADE",
	}

	// 规则只添加一次
	exists, err := ipt.Exists("nat", "POSTROUTING", ruleSpec...)
	if err != nil {
		return fmt.Errorf("check masquerade rule: %w", err)
	}

	if !exists {
		if err := ipt.Append("nat", "POSTROUTING", ruleSpec...); err != nil {
			return fmt.Errorf("add masquerade rule: %w", err)
		}
	}

	return nil
}

// iptablesFor 返回协议族对应的 iptables 实例，首次使用时创建
func (e *NetlinkExecutor) iptablesFor(proto iptables.Protocol) (*iptables.IPTables, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ipt, ok := e.ipt[proto]; ok {
		return ipt, nil
	}

	ipt, err := iptables.NewWithProtocol(proto)
	if err != nil {
		return nil, fmt.Errorf("create iptables instance: %w", err)
	}
	e.ipt[proto] = ipt
	return ipt, nil
}

// iptablesProtocol 按子网的地址族选择 iptables 协议
func iptablesProtocol(subnet string) iptables.Protocol {
	if strings.Contains(subnet, ":") {
		return iptables.ProtocolIPv6
	}
	return iptables.ProtocolIPv4
}

// enableIPForwarding 开启转发，已开启时不写入
func enableIPForwarding(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "1" {
		return nil
	}

	if err := os.WriteFile(path, []byte("1"), 0644); err != nil {
		return fmt.Errorf("enable ip forwarding: %w", err)
	}
	return nil
}

// addAddr 为链路添加地址，地址已存在时视为成功
func addAddr(l netlink.Link, cidr string) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %s: %w", cidr, err)
	}

	addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		if a.IPNet.String() == addr.IPNet.String() {
			return nil
		}
	}

	if err := netlink.AddrAdd(l, addr); err != nil {
		return fmt.Errorf("add %s to %s: %w", cidr, l.Attrs().Name, err)
	}
	return nil
}

// inNamespace 在记账路径指向的命名空间中执行 fn。
// 使用绑定到目标命名空间的 netlink handle，当前线程的命名空间不变；
// 仍然锁定 OS 线程，避免 handle 打开期间 goroutine 迁移。
func inNamespace(nsPath string, fn func(h *netlink.Handle) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ns, err := netns.GetFromPath(nsPath)
	if err != nil {
		return fmt.Errorf("open namespace %s: %w", nsPath, err)
	}
	defer ns.Close()

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return fmt.Errorf("netlink handle in %s: %w", nsPath, err)
	}
	defer h.Close()

	return fn(h)
}
