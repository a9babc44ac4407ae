//go:build !linux
// +build !linux

package state

import "fmt"

// LockFileName 是配置目录中的锁文件名
const LockFileName = "netcfg.lock"

// DaemonLock 非 Linux 平台 stub
type DaemonLock struct{}

func TryAcquireLock(dir string) (*DaemonLock, error) {
	return nil, fmt.Errorf("netcfg daemon is only supported on Linux")
}

func (l *DaemonLock) Path() string {
	return ""
}

func (l *DaemonLock) Release() error {
	return nil
}
