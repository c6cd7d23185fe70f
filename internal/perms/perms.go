package perms

import (
	"fmt"
	"os"
	"strings"

	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// MatchMode 规则名的匹配方言
type MatchMode int

const (
	Exact MatchMode = iota
	Prefix
	Glob // fnmatch 风格, '*' 不跨越 '/'
)

// Rule 一条权限规则, 插入后不再修改
// Attr 非空时作用于 sysfs 属性文件, 否则作用于设备节点
type Rule struct {
	Name string
	Attr string
	Perm os.FileMode
	UID  int
	GID  int
	Mode MatchMode
}

// Store 两张追加式规则表
// dev 表逆序扫描 (后插入的规则覆盖先插入的), sys 表正序扫描且全部命中都生效
type Store struct {
	devPerms []Rule
	sysPerms []Rule
}

func NewStore() *Store {
	return &Store{}
}

// Add 按有无 Attr 决定规则入哪张表
func (s *Store) Add(r Rule) {
	if r.Attr != "" {
		s.sysPerms = append(s.sysPerms, r)
	} else {
		s.devPerms = append(s.devPerms, r)
	}
}

func (r *Rule) pathMatches(path string) bool {
	switch r.Mode {
	case Prefix:
		return strings.HasPrefix(path, r.Name)
	case Glob:
		ok, err := doublestar.Match(r.Name, path)
		return err == nil && ok
	default:
		return path == r.Name
	}
}

// ForPath 逆序扫描 dev 表, 先比主路径再比每条符号链接, 首个命中即返回
// 没有规则命中时退回 0/0/0600
func (s *Store) ForPath(path string, links []string) (uid, gid int, perm os.FileMode) {
	for i := len(s.devPerms) - 1; i >= 0; i-- {
		r := &s.devPerms[i]
		match := r.pathMatches(path)
		if !match {
			for _, l := range links {
				if r.pathMatches(l) {
					match = true
					break
				}
			}
		}
		if match {
			return r.UID, r.GID, r.Perm
		}
	}
	return 0, 0, 0o600
}

// Restorer 事后恢复 SELinux 标签的回调 (由 selinux 句柄实现)
type Restorer interface {
	RestoreRecursive(path string) error
}

// sysfs 规则注册时 Name 带 "/sys" 前缀, 而 uevent 的 devpath 不带,
// 比较时固定跳过前 4 个字节
const sysPrefixLen = 4

// FixupSysfs 对 upath (uevent devpath) 逐条套用 sys 表规则:
// chown + chmod 每个命中的属性文件, 最后在 /sys<upath> 下递归恢复标签
func (s *Store) FixupSysfs(upath string, sel Restorer) {
	for i := range s.sysPerms {
		r := &s.sysPerms[i]
		name := r.Name
		if len(name) > sysPrefixLen {
			name = name[sysPrefixLen:]
		}
		var ok bool
		switch r.Mode {
		case Prefix:
			ok = strings.HasPrefix(upath, name)
		case Glob:
			ok, _ = doublestar.Match(name, upath)
		default:
			ok = upath == name
		}
		if !ok {
			continue
		}

		// 原实现用 512 字节栈缓冲, 超长直接放弃剩余规则
		if len(upath)+len(r.Attr)+6 > 512 {
			break
		}

		attrPath := fmt.Sprintf("/sys%s/%s", upath, r.Attr)
		sysutil.Log.Info("fixup sysfs attr",
			zap.String("path", attrPath),
			zap.Int("uid", r.UID),
			zap.Int("gid", r.GID),
			zap.String("perm", fmt.Sprintf("0%o", r.Perm)),
		)
		if err := os.Chown(attrPath, r.UID, r.GID); err != nil {
			sysutil.Log.Debug("chown failed", zap.Error(err))
		}
		if err := os.Chmod(attrPath, r.Perm); err != nil {
			sysutil.Log.Debug("chmod failed", zap.Error(err))
		}
	}

	sysPath := "/sys" + upath
	if _, err := os.Stat(sysPath); err == nil && sel != nil {
		if err := sel.RestoreRecursive(sysPath); err != nil {
			sysutil.Log.Warn("restorecon failed", zap.String("path", sysPath), zap.Error(err))
		}
	}
}
