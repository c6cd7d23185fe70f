package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
)

func TestMain(m *testing.M) {
	sysutil.InitLogger()
	os.Exit(m.Run())
}

// 搭一个假的 sysfs 固件节点: <root>/<devpath>/{loading,data}
func fakeSysfs(t *testing.T, root, devpath string) (loadingPath, dataPath string) {
	t.Helper()
	dir := filepath.Join(root, devpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	loadingPath = filepath.Join(dir, "loading")
	dataPath = filepath.Join(dir, "data")
	for _, p := range []string{loadingPath, dataPath} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return loadingPath, dataPath
}

func TestHandleIgnoresNonFirmware(t *testing.T) {
	l := NewLoader(nil, "/nonexistent", "/nonexistent")
	l.Handle(&uevent.Event{Subsystem: "block", Action: "add"})
	l.Handle(&uevent.Event{Subsystem: "firmware", Action: "remove"})
}

func TestTransferSuccess(t *testing.T) {
	root := t.TempDir()
	fwDir := t.TempDir()
	devpath := "/devices/virtual/firmware/fw0"
	loadingPath, dataPath := fakeSysfs(t, root, devpath)

	blob := bytes.Repeat([]byte{0xAB}, os.Getpagesize()*2+17)
	if err := os.WriteFile(filepath.Join(fwDir, "foo.bin"), blob, 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader([]string{fwDir}, filepath.Join(root, ".booting"), root)
	l.Handle(&uevent.Event{Subsystem: "firmware", Action: "add", Path: devpath, Firmware: "foo.bin"})

	data, _ := os.ReadFile(dataPath)
	if !bytes.Equal(data, blob) {
		t.Fatalf("data file has %d bytes, want %d", len(data), len(blob))
	}
	loading, _ := os.ReadFile(loadingPath)
	if string(loading) != "10" {
		t.Fatalf("loading = %q, want \"10\"", loading)
	}
}

func TestNotFoundNotBooting(t *testing.T) {
	root := t.TempDir()
	devpath := "/devices/virtual/firmware/fw1"
	loadingPath, _ := fakeSysfs(t, root, devpath)

	l := NewLoader([]string{t.TempDir()}, filepath.Join(root, ".booting"), root)
	l.Handle(&uevent.Event{Subsystem: "firmware", Action: "add", Path: devpath, Firmware: "missing.bin"})

	loading, _ := os.ReadFile(loadingPath)
	if string(loading) != "-1" {
		t.Fatalf("loading = %q, want \"-1\"", loading)
	}
}

func TestRetryWhileBooting(t *testing.T) {
	root := t.TempDir()
	fwDir := t.TempDir()
	devpath := "/devices/virtual/firmware/fw2"
	loadingPath, dataPath := fakeSysfs(t, root, devpath)

	sentinel := filepath.Join(root, ".booting")
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// 固件文件晚到: 第一轮搜索必然落空, 启动状态让 loader 重试
	blob := []byte("late firmware")
	go func() {
		time.Sleep(250 * time.Millisecond)
		os.WriteFile(filepath.Join(fwDir, "late.bin"), blob, 0o644)
	}()

	l := NewLoader([]string{fwDir}, sentinel, root)
	l.Handle(&uevent.Event{Subsystem: "firmware", Action: "add", Path: devpath, Firmware: "late.bin"})

	data, _ := os.ReadFile(dataPath)
	if !bytes.Equal(data, blob) {
		t.Fatalf("data = %q", data)
	}
	loading, _ := os.ReadFile(loadingPath)
	if string(loading) != "10" {
		t.Fatalf("loading = %q, want \"10\"", loading)
	}
}

func TestSearchOrder(t *testing.T) {
	root := t.TempDir()
	first, second := t.TempDir(), t.TempDir()
	devpath := "/devices/virtual/firmware/fw3"
	_, dataPath := fakeSysfs(t, root, devpath)

	os.WriteFile(filepath.Join(first, "fw.bin"), []byte("first"), 0o644)
	os.WriteFile(filepath.Join(second, "fw.bin"), []byte("second"), 0o644)

	l := NewLoader([]string{first, second}, filepath.Join(root, ".booting"), root)
	l.Handle(&uevent.Event{Subsystem: "firmware", Action: "add", Path: devpath, Firmware: "fw.bin"})

	data, _ := os.ReadFile(dataPath)
	if string(data) != "first" {
		t.Fatalf("data = %q, want the first directory to win", data)
	}
}
