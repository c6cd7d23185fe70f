package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hara602/devSentry/internal/config"
	"github.com/Hara602/devSentry/internal/devmgr"
	"github.com/Hara602/devSentry/internal/journal"
	"github.com/Hara602/devSentry/internal/kmod"
	"github.com/Hara602/devSentry/internal/selinux"
	"github.com/Hara602/devSentry/internal/sysutil"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "yaml config path")
	firmwareChild := flag.Bool("firmware-child", false, "handle firmware events only")
	flag.Parse()

	// 初始化日志
	sysutil.InitLogger()
	defer sysutil.Log.Sync()

	// mknod/netlink 需要 Root 权限
	if os.Geteuid() != 0 {
		sysutil.LogSugar.Fatal("Must run as root (required by Netlink/mknod).")
	}

	sysutil.Log.Info("🔌 devSentry Device Manager Starting...",
		zap.Bool("firmware_child", *firmwareChild))

	cfg, err := config.Load(*configPath)
	if err != nil {
		sysutil.Log.Fatal("Config load failed", zap.Error(err))
	}

	// 事件落库是可选的
	var jrnl *journal.Journal
	if cfg.JournalDB != "" {
		jrnl, err = journal.Open(cfg.JournalDB)
		if err != nil {
			sysutil.Log.Fatal("Journal init failed", zap.Error(err))
		}
		defer jrnl.Close()
	}

	// SELinux 标签服务在本仓库之外, 没有就空转
	mgr := devmgr.New(cfg, selinux.Nop{}, kmod.NewFinitInsmod(kmod.DefaultModuleDir()), jrnl, *firmwareChild)

	// 建监听 + coldboot 重放存量设备
	if err := mgr.Init(); err != nil {
		sysutil.Log.Fatal("Device manager init failed", zap.Error(err))
	}
	defer mgr.Close()

	// coldboot 期间积压的事件先清一轮
	mgr.DrainEvents()

	go func() {
		for {
			ready, err := mgr.Receiver().Wait(-1)
			if err != nil {
				sysutil.Log.Error("poll failed", zap.Error(err))
				return
			}
			if ready {
				mgr.DrainEvents()
			}
		}
	}()

	// 捕获操作系统信号，优雅退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sysutil.Log.Info("Shutting down...")
}
