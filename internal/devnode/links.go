package devnode

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/Hara602/devSentry/internal/sysutil"
	"go.uber.org/zap"
)

// MakeLink 确保 link 指向 target 的符号链接存在, 父目录一并创建
// 链接已存在且指向一致时为幂等; 指向不一致时重指一次
func MakeLink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	err := os.Symlink(target, link)
	if err == nil || !errors.Is(err, os.ErrExist) {
		return err
	}
	if existing, rerr := os.Readlink(link); rerr == nil && existing == target {
		return nil
	}
	if err := os.Remove(link); err != nil {
		return err
	}
	return os.Symlink(target, link)
}

// RemoveLink 仅当 link 仍指向 target 时删除它
func RemoveLink(target, link string) {
	if existing, err := os.Readlink(link); err == nil && existing == target {
		if err := os.Remove(link); err != nil {
			sysutil.Log.Debug("remove link failed", zap.String("link", link), zap.Error(err))
		}
	}
}
