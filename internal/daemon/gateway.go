package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"netcfg/internal/log"
	"netcfg/pkg/fileutil"
)

// maxMessageSize 是单条控制消息的上限
const maxMessageSize = 16 << 20

// request 是网关交给事件循环的一条控制消息
type request struct {
	ctx   context.Context
	raw   []byte
	reply chan Response
}

// Listen 在 path 上创建控制 unix socket。
// 残留的 socket 文件会被删除（调用方已持有 daemon 锁），maxConns 限制同时处理的连接数。
func Listen(path string, maxConns int) (net.Listener, error) {
	if err := fileutil.EnsureParentDir(path, 0755); err != nil {
		return nil, err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}

// gateway 接受控制连接，按行读取请求并交给事件循环，等待应答后写回。
// 每条连接同一时刻最多一个未完成的请求。
type gateway struct {
	listener net.Listener
	requests chan<- *request
	timeout  time.Duration
}

// serve 运行 accept 循环，直到 listener 被关闭
func (g *gateway) serve(ctx context.Context) {
	ctx = log.WithModule(ctx, "gateway")

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.G(ctx).WithError(err).Warn("failed to accept control connection")
			continue
		}

		go g.serveConn(ctx, conn)
	}
}

func (g *gateway) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("conn", uuid.NewString()))
	log.G(ctx).Debug("control connection accepted")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	enc := json.NewEncoder(conn)

	for {
		if g.timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(g.timeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && ctx.Err() == nil {
				log.G(ctx).WithError(err).Debug("control connection closed")
			}
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req := &request{
			ctx:   ctx,
			raw:   append([]byte(nil), line...),
			reply: make(chan Response, 1),
		}

		select {
		case g.requests <- req:
		case <-ctx.Done():
			return
		}

		var resp Response
		select {
		case resp = <-req.reply:
		case <-ctx.Done():
			return
		}

		// Encode 会在末尾追加换行
		if err := enc.Encode(resp); err != nil {
			log.G(ctx).WithError(err).Debug("failed to write control response")
			return
		}
	}
}
