//go:build linux

package devmgr

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hara602/devSentry/internal/config"
	"github.com/Hara602/devSentry/internal/devnode"
	"github.com/Hara602/devSentry/internal/firmware"
	"github.com/Hara602/devSentry/internal/journal"
	"github.com/Hara602/devSentry/internal/kmod"
	"github.com/Hara602/devSentry/internal/perms"
	"github.com/Hara602/devSentry/internal/platform"
	"github.com/Hara602/devSentry/internal/selinux"
	"github.com/Hara602/devSentry/internal/symlink"
	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
	"github.com/Hara602/devSentry/internal/watcher"
	"go.uber.org/zap"
)

// Manager 单执行上下文的设备管理器
// 所有表 (规则/注册表/队列) 都归本上下文独占, 不加锁
type Manager struct {
	cfg      *config.Config
	perms    *perms.Store
	registry *platform.Registry
	nodes    *devnode.Manager
	modules  *kmod.Engine
	firmware *firmware.Loader
	journal  *journal.Journal
	recv     *watcher.Receiver

	// 固件子上下文: 只处理固件事件, 不做 coldboot
	child bool

	sysfsRoots []string
}

func New(cfg *config.Config, sel selinux.Handle, ins kmod.Insmod, jrnl *journal.Journal, child bool) *Manager {
	store := perms.NewStore()
	return &Manager{
		cfg:      cfg,
		perms:    store,
		registry: platform.NewRegistry(),
		nodes:    devnode.NewManager(store, sel),
		modules:  kmod.NewEngine(cfg.ModulesAlias, cfg.ModulesBlacklist, cfg.BootingSentinel, ins),
		firmware: firmware.NewLoader(cfg.FirmwareDirs, cfg.BootingSentinel, "/sys"),
		journal:  jrnl,
		child:    child,
		sysfsRoots: []string{
			"/sys/class",
			"/sys/block",
			"/sys/devices",
		},
	}
}

// Perms 暴露规则表给前端 (ueventd.rc 解析器在本仓库之外)
func (m *Manager) Perms() *perms.Store {
	return m.perms
}

// Init 建立 netlink 监听; 非子上下文顺带做一次 coldboot
func (m *Manager) Init() error {
	recv, err := watcher.Connect()
	if err != nil {
		return err
	}
	m.recv = recv

	if m.child {
		return nil // 子上下文不做 coldboot
	}
	m.coldboot()
	return nil
}

// Receiver 给主循环 poll 用
func (m *Manager) Receiver() *watcher.Receiver {
	return m.recv
}

func (m *Manager) Close() {
	if m.recv != nil {
		m.recv.Close()
	}
}

// DrainEvents 排空套接字并逐条分发
func (m *Manager) DrainEvents() {
	if m.recv == nil {
		return
	}
	m.recv.Drain(func(e *uevent.Event) {
		// 策略有更新就先换句柄再处理
		if sel := m.nodes.SELinux(); sel.StatusUpdated() {
			if fresh, err := sel.Reload(); err == nil {
				m.nodes.SetSELinux(fresh)
			}
		}
		if m.child {
			m.firmware.Handle(e)
		} else {
			m.dispatch(e)
		}
	})
}

// dispatch 一条 uevent 的完整处理
func (m *Manager) dispatch(e *uevent.Event) {
	if e.Action == "add" {
		m.modules.HandleModalias(e.Modalias)
	}

	if e.Action == "add" || e.Action == "change" || e.Action == "online" {
		m.perms.FixupSysfs(e.Path, m.nodes.SELinux())
	}

	switch {
	case strings.HasPrefix(e.Subsystem, "block"):
		m.handleBlockDevice(e)
	case strings.HasPrefix(e.Subsystem, "platform"):
		m.handlePlatformDevice(e)
	default:
		m.handleGenericDevice(e)
	}

	m.journal.Record(e)
}

func (m *Manager) handlePlatformDevice(e *uevent.Event) {
	switch e.Action {
	case "add":
		m.registry.Add(e.Path)
	case "remove":
		m.registry.Remove(e.Path)
	}
}

func (m *Manager) handleBlockDevice(e *uevent.Event) {
	name := deviceName(e)
	if name == "" {
		return
	}

	os.MkdirAll("/dev/block", 0o755)
	devpath := "/dev/block/" + name

	var links []string
	if strings.HasPrefix(e.Path, "/devices/") {
		links = symlink.BlockLinks(m.registry, e)
	}

	m.nodes.HandleDevice(e.Action, devpath, e.Path, true, e.Major, e.Minor, links)
}

func (m *Manager) handleGenericDevice(e *uevent.Event) {
	name := deviceName(e)
	if name == "" {
		return
	}

	devpath, ok := genericDevpath(m.cfg.FindSubsystem(e.Subsystem), e, name)
	if !ok {
		return
	}

	os.MkdirAll(filepath.Dir(devpath), 0o755)
	links := symlink.CharLinks(m.registry, e)

	m.nodes.HandleDevice(e.Action, devpath, e.Path, false, e.Major, e.Minor, links)
}

// coldboot 重放开机前就存在的设备的 add 事件, 只跑一次
func (m *Manager) coldboot() {
	if _, err := os.Stat(m.cfg.ColdbootDone); err == nil {
		sysutil.Log.Info("skipping coldboot, already done")
		return
	}

	start := time.Now()
	for _, root := range m.sysfsRoots {
		m.coldbootWalk(root)
	}
	m.modules.DrainDeferred()

	if f, err := os.OpenFile(m.cfg.ColdbootDone, os.O_WRONLY|os.O_CREATE, 0o000); err == nil {
		f.Close()
	}
	sysutil.Log.Info("coldboot finished", zap.Duration("took", time.Since(start)))
}

// coldbootWalk 深度优先戳 uevent 文件, 每戳一次就同步排空一次,
// 免得积压事件撑爆套接字缓冲
func (m *Manager) coldbootWalk(dir string) {
	if f, err := os.OpenFile(filepath.Join(dir, "uevent"), os.O_WRONLY, 0); err == nil {
		f.WriteString("add\n")
		f.Close()
		m.DrainEvents()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		if !de.IsDir() || de.Name()[0] == '.' {
			continue
		}
		m.coldbootWalk(filepath.Join(dir, de.Name()))
	}
}
