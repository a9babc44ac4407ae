package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"netcfg/internal/log"
)

// configWatcher 监视配置文件，文件变化时通知事件循环。
// 事件循环收到通知后自己读取文件并按内容摘要判断是否真的变化，
// daemon 自己的写入因此会被忽略，也不会用过期内容覆盖之后的修改。
type configWatcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// newConfigWatcher 监视配置文件所在目录。
// 监视目录而不是文件本身，因为写入采用 rename 替换，文件的 inode 会变化。
func newConfigWatcher(path string) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &configWatcher{path: path, watcher: w}, nil
}

// run 转发变化通知直到 ctx 结束。
// out 应带缓冲；已有未处理的通知时新的通知被合并。
func (w *configWatcher) run(ctx context.Context, out chan<- struct{}) {
	defer w.watcher.Close()
	ctx = log.WithModule(ctx, "watcher")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			select {
			case out <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.G(ctx).WithError(err).Warn("configuration watcher error")

		case <-ctx.Done():
			return
		}
	}
}
