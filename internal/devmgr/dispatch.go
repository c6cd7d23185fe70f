package devmgr

import (
	"fmt"
	"strings"

	"github.com/Hara602/devSentry/internal/config"
	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
	"go.uber.org/zap"
)

const (
	// 组装出的节点路径的字节上限, 超出即放弃该事件
	devpathMax = 95
	// devpath 尾名的上限
	nameMax = 64
)

// deviceName 取 devpath 尾段作为节点名; 不是设备 (无主次号) 时为空
func deviceName(e *uevent.Event) string {
	if e.Major < 0 || e.Minor < 0 {
		return ""
	}
	idx := strings.LastIndexByte(e.Path, '/')
	if idx < 0 {
		return ""
	}
	name := e.Path[idx+1:]
	if len(name) > nameMax {
		sysutil.Log.Error("device name exceeds filename limit, ignoring event",
			zap.String("name", name), zap.Int("limit", nameMax))
		return ""
	}
	return name
}

func assembleDevpath(dirname, devname string) (string, bool) {
	p := dirname + "/" + devname
	if len(p) > devpathMax {
		sysutil.Log.Error("device path exceeds limit, ignoring event",
			zap.String("path", p), zap.Int("limit", devpathMax))
		return "", false
	}
	return p, true
}

// genericDevpath 为非 block/platform 设备决定节点路径
// 优先级: 子系统重定向表 > usb 族特判 > 固定基目录表 > /dev/
func genericDevpath(sub *config.Subsystem, e *uevent.Event, name string) (string, bool) {
	if sub != nil {
		var devname string
		switch sub.Devname {
		case "uevent":
			devname = e.DeviceName
		case "devpath":
			devname = name
		default:
			sysutil.Log.Error("subsystem devname option not set, ignoring event",
				zap.String("subsystem", e.Subsystem))
			return "", false
		}
		return assembleDevpath(sub.DirName, devname)
	}

	if strings.HasPrefix(e.Subsystem, "usb") {
		if e.Subsystem == "usb" || e.Subsystem == "usbmisc" {
			if e.DeviceName != "" {
				return assembleDevpath("/dev", e.DeviceName)
			}
			// 没有 DEVNAME 时仿 devfs 的布局从次设备号推:
			// 每 128 个次号一条总线, 编号从 001 起
			busID := e.Minor/128 + 1
			devID := e.Minor%128 + 1
			return fmt.Sprintf("/dev/bus/usb/%03d/%03d", busID, devID), true
		}
		// 其它 usb 事件不建节点
		return "", false
	}

	base := "/dev/"
	switch {
	case strings.HasPrefix(e.Subsystem, "graphics"):
		base = "/dev/graphics/"
	case strings.HasPrefix(e.Subsystem, "drm"):
		base = "/dev/dri/"
	case strings.HasPrefix(e.Subsystem, "oncrpc"):
		base = "/dev/oncrpc/"
	case strings.HasPrefix(e.Subsystem, "adsp"):
		base = "/dev/adsp/"
	case strings.HasPrefix(e.Subsystem, "msm_camera"):
		base = "/dev/msm_camera/"
	case strings.HasPrefix(e.Subsystem, "input"):
		base = "/dev/input/"
	case strings.HasPrefix(e.Subsystem, "mtd"):
		base = "/dev/mtd/"
	case strings.HasPrefix(e.Subsystem, "sound"):
		base = "/dev/snd/"
	case strings.HasPrefix(e.Subsystem, "misc") && strings.HasPrefix(name, "log_"):
		sysutil.Log.Info("kernel logger is deprecated")
		base = "/dev/log/"
		name = name[len("log_"):]
	}
	return base + name, true
}
