//go:build linux
// +build linux

package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"netcfg/pkg/fileutil"
)

// LockFileName 是配置目录中的锁文件名
const LockFileName = "netcfg.lock"

// DaemonLock 保证同一份配置文档只被一个 daemon 持有。
// 锁文件内容是持有者的 pid，仅用于报错提示，互斥由 flock(2) 保证。
type DaemonLock struct {
	path string
	file *os.File
}

// TryAcquireLock 以非阻塞方式获取 dir 下的独占锁，目录不存在时创建
func TryAcquireLock(dir string) (*DaemonLock, error) {
	if err := fileutil.EnsureDir(dir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, LockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("config directory %s is in use by another netcfg daemon%s", dir, holder(path))
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	// 记录 pid；写失败不影响互斥
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &DaemonLock{path: path, file: file}, nil
}

// Path 返回锁文件路径
func (l *DaemonLock) Path() string {
	return l.path
}

// Release 释放锁，可重复调用
func (l *DaemonLock) Release() error {
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil

	// 关闭描述符即释放 flock
	_ = file.Truncate(0)
	if err := file.Close(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// holder 读取锁文件中记录的 pid，用于错误信息
func holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := strings.TrimSpace(string(data))
	if pid == "" {
		return ""
	}
	return " (pid " + pid + ")"
}
