//go:build !linux
// +build !linux

package network

import "fmt"

// NetlinkExecutor 非 Linux 平台 stub，所有操作均失败
type NetlinkExecutor struct{}

var errNotLinux = fmt.Errorf("host network provisioning is only supported on Linux")

func NewNetlinkExecutor() (*NetlinkExecutor, error) {
	return nil, errNotLinux
}

func (e *NetlinkExecutor) LinkExists(name string) bool { return false }
func (e *NetlinkExecutor) AddBridge(name string) error { return errNotLinux }
func (e *NetlinkExecutor) AddAddress(link, cidr string) error { return errNotLinux }
func (e *NetlinkExecutor) AddVethPair(host, guest string, mtu int) error { return errNotLinux }
func (e *NetlinkExecutor) SetMaster(link, master string) error { return errNotLinux }
func (e *NetlinkExecutor) SetUp(link string) error { return errNotLinux }
func (e *NetlinkExecutor) DeleteLink(name string) error { return errNotLinux }
func (e *NetlinkExecutor) MoveToNamespace(link, nsPath string) error { return errNotLinux }
func (e *NetlinkExecutor) RenameInNamespace(nsPath, link, name string) error { return errNotLinux }
func (e *NetlinkExecutor) AddAddressInNamespace(nsPath, link, cidr string) error { return errNotLinux }
func (e *NetlinkExecutor) SetUpInNamespace(nsPath, link string) error { return errNotLinux }
func (e *NetlinkExecutor) Masquerade(subnet, bridge string) error { return errNotLinux }
