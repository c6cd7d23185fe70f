package symlink

import (
	"fmt"
	"os"
	"strings"

	"github.com/Hara602/devSentry/internal/platform"
	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
	"go.uber.org/zap"
)

// Sanitize 把 [A-Za-z0-9._-] 之外的字节替换成 '_', 长度不变
func Sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// BlockLinks 为块设备事件推导稳定符号链接路径
// 锚点优先取 platform 设备短名, 其次取 PCI 前缀, 都没有则不产生链接
// 链接顺序固定: by-name, by-num, devpath 尾名
func BlockLinks(reg *platform.Registry, e *uevent.Event) []string {
	var typ, device string
	if pdev := reg.Find(e.Path); pdev != nil {
		typ, device = "platform", pdev.Name
	} else if prefix, ok := platform.PCIPrefix(e.Path); ok {
		typ, device = "pci", prefix
	} else {
		return nil
	}

	sysutil.Log.Info("found block device parent",
		zap.String("type", typ), zap.String("device", device))

	base := fmt.Sprintf("/dev/block/%s/%s", typ, device)
	var links []string

	if e.PartitionName != "" {
		clean := Sanitize(e.PartitionName)
		if clean != e.PartitionName {
			sysutil.Log.Info("linking partition under sanitized name",
				zap.String("partition", e.PartitionName), zap.String("as", clean))
		}
		links = append(links, base+"/by-name/"+clean)
	}

	if e.PartitionNum >= 0 {
		links = append(links, fmt.Sprintf("%s/by-num/p%d", base, e.PartitionNum))
	}

	leaf := e.Path[strings.LastIndexByte(e.Path, '/')+1:]
	links = append(links, base+"/"+leaf)

	return links
}

// CharLinks 为字符设备推导 USB 接口链接
// 仅处理挂在 platform 设备下、子路径以 /usb 开头的设备:
// 跳过根集线器与设备两段, 取接口段拼成 /dev/usb/<subsystem><iface>
func CharLinks(reg *platform.Registry, e *uevent.Event) []string {
	pdev := reg.Find(e.Path)
	if pdev == nil {
		return nil
	}

	rest := e.Path[len(pdev.Path):]
	if !strings.HasPrefix(rest, "/usb") {
		return nil
	}

	segs := strings.Split(rest[1:], "/")
	// 接口段之后还必须有内容, 否则这不是接口层级的事件
	if len(segs) < 4 || segs[2] == "" {
		return nil
	}

	os.MkdirAll("/dev/usb", 0o755)
	return []string{"/dev/usb/" + e.Subsystem + segs[2]}
}
