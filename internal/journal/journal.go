package journal

import (
	"database/sql"
	"fmt"

	"github.com/Hara602/devSentry/internal/uevent"
	_ "modernc.org/sqlite"
)

// Journal 已处理 uevent 的落库记录, 只写不读
// 路径为空时不开启 (核心本身不依赖任何磁盘状态)
type Journal struct {
	db *sql.DB
}

// Open 初始化数据库表结构
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS uevents (
		action TEXT,
		devpath TEXT,
		subsystem TEXT,
		major INTEGER,
		minor INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record 落一条事件, 失败静默 (记录不能拖垮事件循环)
func (j *Journal) Record(e *uevent.Event) {
	if j == nil {
		return
	}
	j.db.Exec(
		"INSERT INTO uevents(action,devpath,subsystem,major,minor) VALUES (?, ?, ?, ?, ?)",
		e.Action, e.Path, e.Subsystem, e.Major, e.Minor,
	)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
