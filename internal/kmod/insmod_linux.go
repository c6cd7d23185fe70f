//go:build linux

package kmod

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Hara602/devSentry/internal/sysutil"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type depEntry struct {
	path string   // 相对 moduleDir 的 .ko 路径
	deps []string // 先于它加载的依赖
}

// DefaultModuleDir 当前内核的模块目录 /lib/modules/<release>
func DefaultModuleDir() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "/lib/modules"
	}
	release := string(uts.Release[:bytes.IndexByte(uts.Release[:], 0)])
	return filepath.Join("/lib/modules", release)
}

// NewFinitInsmod 基于 finit_module 的插入器, 按 modules.dep 先装依赖
// modules.dep 第一次用到时才解析, 解析失败的话每次调用都报错
func NewFinitInsmod(moduleDir string) Insmod {
	var deps map[string]depEntry

	return func(name, options string) error {
		if deps == nil {
			var err error
			deps, err = parseDeps(filepath.Join(moduleDir, "modules.dep"))
			if err != nil {
				return fmt.Errorf("read modules.dep: %w", err)
			}
		}

		// 别名里的 acpi_cpufreq 在磁盘上可能叫 acpi-cpufreq.ko
		entry, ok := deps[strings.ReplaceAll(name, "-", "_")]
		if !ok {
			return fmt.Errorf("module %q not found", name)
		}

		for _, dep := range entry.deps {
			if err := finit(filepath.Join(moduleDir, dep), ""); err != nil {
				return err
			}
		}
		return finit(filepath.Join(moduleDir, entry.path), options)
	}
}

func finit(path, options string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sysutil.Log.Debug("finit_module", zap.String("path", path))
	if err := unix.FinitModule(int(f.Fd()), options, 0); err != nil {
		switch err {
		case unix.EEXIST, unix.EBUSY, unix.ENODEV, unix.ENOENT:
			// 已加载/正在加载/硬件不在, 都不算失败
			return nil
		}
		return fmt.Errorf("finit_module(%s): %w", path, err)
	}
	return nil
}

// parseDeps 解析 modules.dep: "<path>.ko: <dep>.ko <dep>.ko ..."
func parseDeps(path string) (map[string]depEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	deps := make(map[string]depEntry)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), " ")
		base := strings.TrimSuffix(filepath.Base(parts[0]), ".ko:")
		base = strings.ReplaceAll(base, "-", "_")
		deps[base] = depEntry{
			path: strings.TrimSuffix(parts[0], ":"),
			deps: parts[1:],
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return deps, nil
}
