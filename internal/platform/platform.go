package platform

import (
	"strings"

	"github.com/Hara602/devSentry/internal/sysutil"
	"go.uber.org/zap"
)

// Device 一个已登记的 platform 总线设备
// Path 是原始 devpath, Name 是剥掉 /devices/ 和 platform/ 前缀后的短名
type Device struct {
	Name string
	Path string
}

// Registry 按插入序保存 platform 设备, 查找时逆序扫描,
// 这样最近登记 (也即最长匹配) 的前缀优先
type Registry struct {
	devices []Device
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add 登记一个 platform 设备 (subsystem=platform 的 add 事件)
func (r *Registry) Add(path string) {
	name := path
	if strings.HasPrefix(name, "/devices/") {
		name = name[len("/devices/"):]
		name = strings.TrimPrefix(name, "platform/")
	}
	sysutil.Log.Info("adding platform device",
		zap.String("name", name), zap.String("path", path))
	r.devices = append(r.devices, Device{Name: name, Path: path})
}

// Remove 按 devpath 精确匹配删除 (逆序找到第一个即止)
func (r *Registry) Remove(path string) {
	for i := len(r.devices) - 1; i >= 0; i-- {
		if r.devices[i].Path == path {
			sysutil.Log.Info("removing platform device",
				zap.String("name", r.devices[i].Name))
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			return
		}
	}
}

// Find 返回 path 所属的 platform 设备: 其 Path 必须是 path 的严格目录前缀
// (前缀之后紧跟 '/')，命中多个时取最近登记的一个
func (r *Registry) Find(path string) *Device {
	for i := len(r.devices) - 1; i >= 0; i-- {
		d := &r.devices[i]
		if len(d.Path) < len(path) &&
			path[len(d.Path)] == '/' &&
			strings.HasPrefix(path, d.Path) {
			return d
		}
	}
	return nil
}

// PCIPrefix 从 /devices/pci... 形状的 devpath 里取出
// 域/总线号加外设 ID, 例如 pci0000:00/0000:00:1f.2
func PCIPrefix(path string) (string, bool) {
	if !strings.HasPrefix(path, "/devices/pci") {
		return "", false
	}
	// 前缀从 /devices/ 之后的 "pci" 开始, 到其后第二个 '/' 为止
	start := path[len("/devices/"):]
	first := strings.IndexByte(start, '/')
	if first < 0 {
		return "", false
	}
	second := strings.IndexByte(start[first+1:], '/')
	if second < 0 {
		return "", false
	}
	return start[:first+1+second], true
}
