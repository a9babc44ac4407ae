package network

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"netcfg/pkg/fileutil"
)

// NamespaceScope 在命名空间记账目录中为容器网络命名空间建立符号链接
// （<dir>/<handle> -> <proc>/<handle>/ns/net），供按路径定位命名空间的操作使用。
// 获得 scope 后必须 defer Close，保证任何退出路径上都会删除符号链接。
type NamespaceScope struct {
	handle string
	path   string
}

// AcquireNamespace 为命名空间句柄建立记账符号链接。
// 目录按需创建，同名的残留链接会被替换。
func AcquireNamespace(dir, procRoot, handle string) (*NamespaceScope, error) {
	if handle == "" || filepath.Base(handle) != handle {
		return nil, fmt.Errorf("invalid namespace handle %q", handle)
	}

	target := filepath.Join(procRoot, handle, "ns", "net")
	if err := unix.Access(target, unix.F_OK); err != nil {
		return nil, fmt.Errorf("namespace %s: %w", target, err)
	}

	if err := fileutil.EnsureDir(dir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, handle)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale namespace link: %w", err)
	}

	if err := os.Symlink(target, path); err != nil {
		return nil, fmt.Errorf("link namespace %s: %w", handle, err)
	}

	return &NamespaceScope{handle: handle, path: path}, nil
}

// Handle 返回命名空间句柄
func (s *NamespaceScope) Handle() string {
	return s.handle
}

// Path 返回记账符号链接路径
func (s *NamespaceScope) Path() string {
	return s.path
}

// Close 删除记账符号链接，可重复调用
func (s *NamespaceScope) Close() error {
	if s.path == "" {
		return nil
	}

	err := os.Remove(s.path)
	s.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove namespace link: %w", err)
	}
	return nil
}
