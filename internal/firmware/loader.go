package firmware

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

// 启动期间文件系统可能还没就位, 每 100ms 重试一次目录搜索
const bootRetryInterval = 100 * time.Millisecond

// Loader 执行内核发起的固件拷贝握手:
// 向 /sys<devpath>/loading 写 "1", 把固件流进 data, 成功写 "0" 失败写 "-1"
type Loader struct {
	dirs         []string // 固定顺序的固件搜索目录
	bootSentinel string
	sysfsRoot    string
}

func NewLoader(dirs []string, bootSentinel, sysfsRoot string) *Loader {
	return &Loader{dirs: dirs, bootSentinel: bootSentinel, sysfsRoot: sysfsRoot}
}

func (l *Loader) booting() bool {
	_, err := os.Stat(l.bootSentinel)
	return err == nil
}

// Handle 只响应 subsystem=firmware 的 add 事件
func (l *Loader) Handle(e *uevent.Event) {
	if e.Subsystem != "firmware" || e.Action != "add" {
		return
	}
	l.process(e)
}

func (l *Loader) process(e *uevent.Event) {
	sysutil.Log.Info("firmware: loading",
		zap.String("firmware", e.Firmware), zap.String("path", e.Path))

	root := l.sysfsRoot + e.Path

	loading, err := os.OpenFile(filepath.Join(root, "loading"), os.O_WRONLY, 0)
	if err != nil {
		sysutil.Log.Warn("firmware: open loading failed", zap.Error(err))
		return
	}
	defer loading.Close()

	data, err := os.OpenFile(filepath.Join(root, "data"), os.O_WRONLY, 0)
	if err != nil {
		sysutil.Log.Warn("firmware: open data failed", zap.Error(err))
		return
	}
	defer data.Close()

	booting := l.booting()
	for {
		fw := l.open(e.Firmware)
		if fw != nil {
			if err := copyFirmware(fw, loading, data); err != nil {
				sysutil.Log.Warn("firmware: copy failure",
					zap.String("firmware", e.Firmware), zap.Error(err))
			} else {
				sysutil.Log.Info("firmware: copy success",
					zap.String("firmware", e.Firmware))
			}
			fw.Close()
			return
		}
		if !booting {
			break
		}
		time.Sleep(bootRetryInterval)
		booting = l.booting()
	}

	sysutil.Log.Info("firmware: not found", zap.String("firmware", e.Firmware))
	loading.WriteString("-1")
}

// open 按目录顺序找第一个同名固件文件
func (l *Loader) open(name string) *os.File {
	for _, dir := range l.dirs {
		f, err := os.Open(filepath.Join(dir, name))
		if err == nil {
			return f
		}
	}
	return nil
}

// copyFirmware 按页大小分块转发, 读到 EOF 即视为完成 (短读不算错)
func copyFirmware(fw, loading, data *os.File) error {
	st, err := fw.Stat()
	if err != nil {
		return err
	}

	if _, err := loading.WriteString("1"); err != nil { // 开始传输
		return err
	}

	buf := make([]byte, os.Getpagesize())
	first := true
	var copied int64
	for {
		n, rerr := fw.Read(buf)
		if n > 0 {
			if first {
				first = false
				if kind, _ := filetype.Match(buf[:n]); kind != filetype.Unknown {
					sysutil.Log.Debug("firmware: blob type",
						zap.String("ext", kind.Extension))
				}
			}
			if _, werr := data.Write(buf[:n]); werr != nil {
				loading.WriteString("-1") // 中止传输
				return werr
			}
			copied += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			loading.WriteString("-1")
			return rerr
		}
	}

	sysutil.Log.Debug("firmware: transferred",
		zap.Int64("bytes", copied), zap.Int64("size", st.Size()))
	_, err = loading.WriteString("0") // 传输成功结束
	return err
}
