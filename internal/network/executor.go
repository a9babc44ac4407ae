package network

import (
	"context"

	"netcfg/internal/log"
)

// Executor 执行宿主机上的链路、地址和命名空间操作。
// 每个操作同步执行并返回成功与否，本身不保证幂等。
// nsPath 参数是 NamespaceScope.Path() 返回的记账路径。
type Executor interface {
	// LinkExists 返回宿主机命名空间中是否存在该链路
	LinkExists(name string) bool

	// AddBridge 创建 bridge 设备
	AddBridge(name string) error

	// AddAddress 为宿主机命名空间中的链路添加地址（CIDR）
	AddAddress(link, cidr string) error

	// AddVethPair 创建一对相连的 veth
	AddVethPair(host, guest string, mtu int) error

	// SetMaster 将链路加入 bridge
	SetMaster(link, master string) error

	// SetUp 启动宿主机命名空间中的链路
	SetUp(link string) error

	// DeleteLink 删除宿主机命名空间中的链路
	DeleteLink(name string) error

	// MoveToNamespace 将链路移入命名空间
	MoveToNamespace(link, nsPath string) error

	// RenameInNamespace 在命名空间内重命名链路
	RenameInNamespace(nsPath, link, newName string) error

	// AddAddressInNamespace 在命名空间内为链路添加地址（CIDR）
	AddAddressInNamespace(nsPath, link, cidr string) error

	// SetUpInNamespace 在命名空间内启动链路
	SetUpInNamespace(nsPath, link string) error

	// Masquerade 确保 subnet 经由 bridge 以外接口出网时做 SNAT（幂等）
	Masquerade(subnet, bridge string) error
}

// ignoreFailure 是执行器的"忽略失败"模式：错误只记录 debug 日志
func ignoreFailure(ctx context.Context, err error, msg string) {
	if err != nil {
		log.G(ctx).WithError(err).Debug(msg)
	}
}
