//go:build linux

package devnode

import (
	"errors"
	"os"

	"github.com/Hara602/devSentry/internal/perms"
	"github.com/Hara602/devSentry/internal/selinux"
	"github.com/Hara602/devSentry/internal/sysutil"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Manager 负责设备节点和符号链接的创建与回收
type Manager struct {
	perms *perms.Store
	sel   selinux.Handle
}

func NewManager(store *perms.Store, sel selinux.Handle) *Manager {
	return &Manager{perms: store, sel: sel}
}

// SetSELinux 策略更新后换用新句柄
func (m *Manager) SetSELinux(h selinux.Handle) {
	m.sel = h
}

func (m *Manager) SELinux() selinux.Handle {
	return m.sel
}

// HandleDevice 处理一个设备事件的落盘部分
// add: 建节点 + 建链接; remove: 删链接 + 删节点; 其它动作不落盘
func (m *Manager) HandleDevice(action, devpath, originPath string, block bool, major, minor int, links []string) {
	switch action {
	case "add":
		m.makeDevice(devpath, originPath, block, major, minor, links)
		for _, l := range links {
			if err := MakeLink(devpath, l); err != nil {
				sysutil.Log.Warn("make link failed",
					zap.String("link", l), zap.Error(err))
			}
		}
	case "remove":
		for _, l := range links {
			RemoveLink(devpath, l)
		}
		if err := os.Remove(devpath); err != nil && !errors.Is(err, os.ErrNotExist) {
			sysutil.Log.Debug("unlink failed", zap.String("path", devpath), zap.Error(err))
		}
	}
}

func (m *Manager) makeDevice(devpath, originPath string, block bool, major, minor int, links []string) {
	uid, gid, perm := m.perms.ForPath(devpath, links)

	mode := uint32(perm) & 0o777
	if block {
		mode |= unix.S_IFBLK
	} else {
		mode |= unix.S_IFCHR
	}

	label, err := m.sel.LookupBestMatch(originPath, links, os.FileMode(mode))
	if err != nil {
		sysutil.Log.Error("device not created: no SELinux label",
			zap.String("path", devpath), zap.Error(err))
		return
	}
	if err := m.sel.SetFSCreate(label); err != nil {
		sysutil.Log.Warn("setfscreatecon failed", zap.Error(err))
	}

	// mknod 期间临时切换 egid, 关掉内核赋错组的窗口
	// euid 不能动 (会挡住部分节点的创建), uid 仍靠事后 chown
	if err := unix.Setresgid(-1, gid, -1); err != nil {
		sysutil.Log.Warn("setegid failed", zap.Int("gid", gid), zap.Error(err))
	}
	defer func() {
		if err := unix.Setresgid(-1, 0, -1); err != nil {
			sysutil.Log.Error("restore egid failed", zap.Error(err))
		}
		if err := m.sel.SetFSCreate(""); err != nil {
			sysutil.Log.Debug("clear fscreate failed", zap.Error(err))
		}
	}()

	dev := unix.Mkdev(uint32(major), uint32(minor))
	if err := unix.Mknod(devpath, mode, int(dev)); err != nil {
		if errors.Is(err, unix.EEXIST) {
			// coldboot 阶段可能已用错误上下文建过节点, 这里补打标签
			if lerr := m.sel.SetFileLabel(devpath, label); lerr != nil {
				sysutil.Log.Error("relabel existing node failed",
					zap.String("path", devpath), zap.Error(lerr))
			}
		} else {
			sysutil.Log.Error("mknod failed", zap.String("path", devpath), zap.Error(err))
		}
	}

	if err := unix.Chown(devpath, uid, -1); err != nil {
		sysutil.Log.Debug("chown failed", zap.String("path", devpath), zap.Error(err))
	}
}
