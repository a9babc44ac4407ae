// Package networktest 提供记录宿主机操作的测试用执行器
package networktest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Executor 是 network.Executor 的内存实现。
// 每个操作以等价的 ip/iptables 命令形式记录，可对指定命令注入失败。
type Executor struct {
	mu       sync.Mutex
	links    map[string]bool
	commands []string
	failures map[string]error

	// nsMissing 记录执行命名空间内操作时记账链接不存在的命令
	nsMissing []string
}

// New 创建执行器，links 是宿主机上预先存在的链路
func New(links ...string) *Executor {
	e := &Executor{
		links:    make(map[string]bool),
		failures: make(map[string]error),
	}
	for _, l := range links {
		e.links[l] = true
	}
	return e
}

// FailOn 让与 command 完全相同的命令返回错误
func (e *Executor) FailOn(command string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[command] = fmt.Errorf("command failed: %s", command)
}

// Commands 返回已执行的命令
func (e *Executor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Reset 清空命令记录和失败注入，保留链路状态
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = nil
	e.failures = make(map[string]error)
}

// HasLink 返回宿主机命名空间中是否存在链路
func (e *Executor) HasLink(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links[name]
}

// NamespaceMissing 返回执行时记账链接不存在的命名空间内命令
func (e *Executor) NamespaceMissing() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.nsMissing...)
}

func (e *Executor) run(command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	return e.failures[command]
}

func (e *Executor) runIn(nsPath, command string) error {
	full := fmt.Sprintf("ip netns exec %s %s", filepath.Base(nsPath), command)
	if _, err := os.Lstat(nsPath); err != nil {
		e.mu.Lock()
		e.nsMissing = append(e.nsMissing, full)
		e.mu.Unlock()
	}
	return e.run(full)
}

func (e *Executor) LinkExists(name string) bool {
	return e.HasLink(name)
}

func (e *Executor) AddBridge(name string) error {
	if err := e.run(fmt.Sprintf("ip link add dev %s type bridge", name)); err != nil {
		return err
	}
	e.mu.Lock()
	e.links[name] = true
	e.mu.Unlock()
	return nil
}

func (e *Executor) AddAddress(link, cidr string) error {
	return e.run(fmt.Sprintf("ip addr add %s dev %s", cidr, link))
}

func (e *Executor) AddVethPair(host, guest string, mtu int) error {
	err := e.run(fmt.Sprintf("ip link add name %s mtu %d type veth peer name %s mtu %d", host, mtu, guest, mtu))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.links[host] = true
	e.links[guest] = true
	e.mu.Unlock()
	return nil
}

func (e *Executor) SetMaster(link, master string) error {
	return e.run(fmt.Sprintf("ip link set %s master %s", link, master))
}

func (e *Executor) SetUp(link string) error {
	return e.run(fmt.Sprintf("ip link set %s up", link))
}

func (e *Executor) DeleteLink(name string) error {
	if err := e.run(fmt.Sprintf("ip link delete %s", name)); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.links, name)
	e.mu.Unlock()
	return nil
}

func (e *Executor) MoveToNamespace(link, nsPath string) error {
	if err := e.run(fmt.Sprintf("ip link set %s netns %s", link, filepath.Base(nsPath))); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.links, link)
	e.mu.Unlock()
	return nil
}

func (e *Executor) RenameInNamespace(nsPath, link, newName string) error {
	return e.runIn(nsPath, fmt.Sprintf("ip link set %s name %s", link, newName))
}

func (e *Executor) AddAddressInNamespace(nsPath, link, cidr string) error {
	return e.runIn(nsPath, fmt.Sprintf("ip addr add %s dev %s", cidr, link))
}

func (e *Executor) SetUpInNamespace(nsPath, link string) error {
	return e.runIn(nsPath, fmt.Sprintf("ip link set %s up", link))
}

func (e *Executor) Masquerade(subnet, bridge string) error {
	return e.run(fmt.Sprintf("iptables -t nat -A POSTROUTING -s %s ! -o %s -j MASQUERADE", subnet, bridge))
}
