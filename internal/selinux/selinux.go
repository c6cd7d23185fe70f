package selinux

import "os"

// Handle SELinux 标签服务的抽象
// 真实实现依赖宿主的策略库, 不在本仓库内; 测试与无 SELinux 的系统用 Nop
type Handle interface {
	// LookupBestMatch 为 (路径, 备选链接, 文件模式) 解析最优标签
	LookupBestMatch(path string, links []string, mode os.FileMode) (string, error)
	// SetFSCreate 设置当前线程的文件创建标签, 空串表示清除
	SetFSCreate(label string) error
	// SetFileLabel 给已存在的文件直接打标签
	SetFileLabel(path, label string) error
	// RestoreRecursive 在前缀下递归恢复标签
	RestoreRecursive(path string) error
	// StatusUpdated 策略是否有更新, 有则调用方应换新句柄
	StatusUpdated() bool
	// Reload 返回换用的新句柄 (StatusUpdated 为真时调用)
	Reload() (Handle, error)
}

// Nop 什么都不做的句柄
type Nop struct{}

func (Nop) LookupBestMatch(string, []string, os.FileMode) (string, error) { return "", nil }
func (Nop) SetFSCreate(string) error                                      { return nil }
func (Nop) SetFileLabel(string, string) error                             { return nil }
func (Nop) RestoreRecursive(string) error                                 { return nil }
func (Nop) StatusUpdated() bool                                           { return false }
func (n Nop) Reload() (Handle, error)                                     { return n, nil }
