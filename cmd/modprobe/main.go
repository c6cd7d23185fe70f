package main

import (
	"os"

	"github.com/Hara602/devSentry/internal/config"
	"github.com/Hara602/devSentry/internal/kmod"
	"github.com/Hara602/devSentry/internal/sysutil"
	"golang.org/x/sys/unix"
)

// 内核会按 /proc/sys/kernel/modprobe 拉起本程序加载模块
// 用法: modprobe [-q|--]* <modalias 或模块名> [options...]
func main() {
	sysutil.InitLogger()
	defer sysutil.Log.Sync()

	// 只接受 root (内核) 的请求
	if os.Getuid() != 0 {
		os.Exit(-int(unix.EPERM))
	}

	args := os.Args[1:]
	for len(args) > 0 && (args[0] == "-q" || args[0] == "--") {
		sysutil.SetQuiet()
		args = args[1:]
	}

	if len(args) < 1 {
		// 参数不够
		os.Exit(-int(unix.EINVAL))
	}

	cfg, err := config.Load("")
	if err != nil {
		os.Exit(1)
	}

	sysutil.LogSugar.Infof("modprobe %s", args[0])

	e := kmod.NewEngine(cfg.ModulesAlias, cfg.ModulesBlacklist, cfg.BootingSentinel,
		kmod.NewFinitInsmod(kmod.DefaultModuleDir()))
	if err := e.Probe(args[0], args[1:]); err != nil {
		sysutil.LogSugar.Warnf("modprobe failed: %v", err)
		os.Exit(1)
	}
}
