//go:build linux

package watcher

import (
	"errors"

	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// MsgLen 单条 uevent 报文的接收上限, 读满视为截断并丢弃
	MsgLen = 2048

	// 内核侧接收缓冲 8MB (udev 用的是 16MB)
	rcvBufSize = 8 * 1024 * 1024
)

// Receiver 绑定到内核 uevent 组播组的非阻塞 netlink 套接字
type Receiver struct {
	fd   int
	conn *netlink.UEventConn
}

// Connect 建立 NETLINK_KOBJECT_UEVENT 监听
func Connect() (*Receiver, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(conn.Fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBufSize); err != nil {
		sysutil.Log.Warn("SO_RCVBUF failed", zap.Error(err))
	}
	if err := unix.SetNonblock(conn.Fd, true); err != nil {
		conn.Close()
		return nil, err
	}
	return &Receiver{fd: conn.Fd, conn: conn}, nil
}

func (r *Receiver) Fd() int {
	return r.fd
}

func (r *Receiver) Close() {
	if r.conn != nil {
		r.conn.Close()
	} else {
		unix.Close(r.fd)
	}
}

// Drain 边沿触发式排空: 一直读到内核返回没有数据
// 每条报文解析后交给 handle; 溢出报文静默丢弃
func (r *Receiver) Drain(handle func(*uevent.Event)) {
	buf := make([]byte, MsgLen)
	for {
		n, _, err := unix.Recvfrom(r.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			// EAGAIN: 排空完毕
			return
		}
		if n <= 0 {
			return
		}
		if n >= MsgLen { // 溢出 -- 丢弃
			continue
		}
		handle(uevent.Parse(buf[:n]))
	}
}

// Wait 阻塞等待套接字可读, 负超时表示一直等
func (r *Receiver) Wait(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}
