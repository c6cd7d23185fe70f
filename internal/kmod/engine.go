package kmod

import (
	"bufio"
	"os"
	"strings"

	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Insmod 模块插入器, 可替换 (默认实现见 insmod_linux.go)
type Insmod func(name, options string) error

type aliasEntry struct {
	name    string // 模块名
	pattern string // 匹配 MODALIAS 的通配模式
}

type blacklistEntry struct {
	name     string
	deferred bool // true: 推迟到启动完成; false: 永不加载
}

// 单次别名匹配的结局, 多个别名命中时以最后一个为准 (沿用原语义)
type loadResult int

const (
	loadNoMatch loadResult = iota
	loadOK
	loadBlacklisted
	loadDeferred
	loadFailed
)

// Engine MODALIAS 驱动的模块加载引擎
// 别名表在第一次需要时才读; 读不到时把 modalias 排进延迟队列
type Engine struct {
	aliasPath     string
	blacklistPath string
	bootSentinel  string
	insmod        Insmod

	aliases   []aliasEntry
	blacklist []blacklistEntry
	deferred  []string
}

func NewEngine(aliasPath, blacklistPath, bootSentinel string, ins Insmod) *Engine {
	return &Engine{
		aliasPath:     aliasPath,
		blacklistPath: blacklistPath,
		bootSentinel:  bootSentinel,
		insmod:        ins,
	}
}

func (e *Engine) booting() bool {
	_, err := os.Stat(e.bootSentinel)
	return err == nil
}

// HandleModalias uevent add 事件的入口
func (e *Engine) HandleModalias(modalias string) {
	// 别名表一旦能读出来, 就把此前积压的都放出去
	if len(e.aliases) == 0 {
		if err := e.readAliases(); err == nil {
			e.readBlacklist()
			e.DrainDeferred()
		}
	}

	if modalias == "" {
		return
	}

	if len(e.aliases) == 0 || e.load(modalias, e.booting()) == loadDeferred {
		e.deferred = append(e.deferred, modalias)
		sysutil.Log.Info("queued for deferred module loading",
			zap.String("modalias", modalias))
	}
}

// DrainDeferred 启动完成 (或别名表首次就位) 后清空延迟队列
func (e *Engine) DrainDeferred() {
	if len(e.aliases) == 0 {
		return
	}
	for _, m := range e.deferred {
		sysutil.Log.Info("deferred loading of module", zap.String("modalias", m))
		e.load(m, false)
	}
	e.deferred = nil
}

// Probe modprobe 辅助入口: 先按 modalias 匹配, 不成则把参数当模块名直插
func (e *Engine) Probe(name string, options []string) error {
	if len(e.aliases) == 0 {
		if err := e.readAliases(); err == nil {
			e.readBlacklist()
		}
	}
	if e.load(name, false) == loadOK {
		return nil
	}
	return e.insmod(name, strings.Join(options, " "))
}

// load 对每个模式命中的别名逐一分类处理
func (e *Engine) load(modalias string, needDeferred bool) loadResult {
	ret := loadNoMatch
	for _, a := range e.aliases {
		ok, err := doublestar.Match(a.pattern, modalias)
		if err != nil || !ok {
			continue
		}
		sysutil.Log.Info("trying to load module due to uevents",
			zap.String("module", a.name))

		switch e.classify(a.name, needDeferred) {
		case loadOK:
			if err := e.insmod(a.name, ""); err != nil {
				// 加载失败不致命, 其它别名可能还会命中
				sysutil.Log.Info("failed to load module for modalias",
					zap.String("module", a.name),
					zap.String("modalias", modalias),
					zap.Error(err))
				ret = loadFailed
			} else {
				sysutil.Log.Info("loaded module due to uevents",
					zap.String("module", a.name))
				ret = loadOK
			}
		case loadBlacklisted:
			sysutil.Log.Info("module is blacklisted", zap.String("module", a.name))
			ret = loadBlacklisted
		case loadDeferred:
			sysutil.Log.Info("module load deferred until boot completes",
				zap.String("module", a.name))
			ret = loadDeferred
		}
	}
	return ret
}

// classify 黑名单裁决: 未拉黑 → 加载; 拉黑 → 跳过;
// deferred 标记的模块在启动期间推迟, 启动完成后照常加载
func (e *Engine) classify(name string, needDeferred bool) loadResult {
	for _, b := range e.blacklist {
		if b.name != name {
			continue
		}
		if !b.deferred {
			return loadBlacklisted
		}
		if needDeferred {
			return loadDeferred
		}
		return loadOK
	}
	return loadOK
}

// readAliases 读 modules.alias: "alias <pattern> <module>"
// 个别别名 (如 acerhdf) 的模式里带空格, 所以从最后一个空格切
func (e *Engine) readAliases() error {
	f, err := os.Open(e.aliasPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var parsed []aliasEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "alias ") {
			continue // 顺带跳过注释和空行
		}
		line = strings.TrimPrefix(line, "alias ")
		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			continue
		}
		parsed = append(parsed, aliasEntry{
			name:    line[idx+1:],
			pattern: strings.TrimSpace(line[:idx]),
		})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	e.aliases = parsed
	sysutil.Log.Info("read module aliases",
		zap.String("path", e.aliasPath), zap.Int("count", len(parsed)))
	return nil
}

// readBlacklist 读 modules.blacklist: "blacklist <name>" 或 "deferred <name>"
func (e *Engine) readBlacklist() error {
	f, err := os.Open(e.blacklistPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		var deferred bool
		switch fields[0] {
		case "blacklist":
			deferred = false
		case "deferred":
			deferred = true
		default:
			continue
		}
		e.blacklist = append(e.blacklist, blacklistEntry{name: fields[1], deferred: deferred})
	}
	return scanner.Err()
}
