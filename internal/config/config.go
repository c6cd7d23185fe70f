package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// Subsystem ueventd.rc 式的子系统重定向: 节点放进 DirName,
// 名字取自 uevent 的 DEVNAME 或 devpath 尾段
type Subsystem struct {
	Name    string `yaml:"name"`
	DirName string `yaml:"dirname"`
	Devname string `yaml:"devname"` // "uevent" 或 "devpath"
}

type Config struct {
	FirmwareDirs     []string    `yaml:"firmware_dirs"`
	ModulesAlias     string      `yaml:"modules_alias"`
	ModulesBlacklist string      `yaml:"modules_blacklist"`
	BootingSentinel  string      `yaml:"booting_sentinel"`
	ColdbootDone     string      `yaml:"coldboot_done"`
	JournalDB        string      `yaml:"journal_db,omitempty"` // 空则不落库
	Subsystems       []Subsystem `yaml:"subsystems"`
}

// FindSubsystem 按名字查重定向表
func (c *Config) FindSubsystem(name string) *Subsystem {
	for i := range c.Subsystems {
		if c.Subsystems[i].Name == name {
			return &c.Subsystems[i]
		}
	}
	return nil
}

func defaultFirmwareDirs() []string {
	// x86 平台固件只有一处, 其余平台按固定顺序找三处
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "386" {
		return []string{"/system/lib/firmware"}
	}
	return []string{"/etc/firmware", "/vendor/firmware", "/firmware/image"}
}

func defaultModulesAlias() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "/lib/modules/modules.alias"
	}
	release := string(uts.Release[:bytes.IndexByte(uts.Release[:], 0)])
	return filepath.Join("/lib/modules", release, "modules.alias")
}

func defaults() Config {
	return Config{
		FirmwareDirs:     defaultFirmwareDirs(),
		ModulesAlias:     defaultModulesAlias(),
		ModulesBlacklist: "/system/etc/modules.blacklist",
		BootingSentinel:  "/dev/.booting",
		ColdbootDone:     "/dev/.coldboot_done",
	}
}

// Load 读 yaml 配置, 缺省字段回填编译期默认值
// path 为空时尝试几个常规位置, 都没有就纯用默认值
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			"/etc/devsentry/config.yaml",
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		fill(&cfg)
	}
	return &cfg, nil
}

// fill 把 yaml 里没给的字段补回默认值
func fill(cfg *Config) {
	def := defaults()
	if len(cfg.FirmwareDirs) == 0 {
		cfg.FirmwareDirs = def.FirmwareDirs
	}
	if cfg.ModulesAlias == "" {
		cfg.ModulesAlias = def.ModulesAlias
	}
	if cfg.ModulesBlacklist == "" {
		cfg.ModulesBlacklist = def.ModulesBlacklist
	}
	if cfg.BootingSentinel == "" {
		cfg.BootingSentinel = def.BootingSentinel
	}
	if cfg.ColdbootDone == "" {
		cfg.ColdbootDone = def.ColdbootDone
	}
}
