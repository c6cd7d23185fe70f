package platform

import (
	"os"
	"testing"

	"github.com/Hara602/devSentry/internal/sysutil"
)

func TestMain(m *testing.M) {
	sysutil.InitLogger()
	os.Exit(m.Run())
}

func TestAddStripsPrefixes(t *testing.T) {
	r := NewRegistry()
	r.Add("/devices/platform/soc.0")
	r.Add("/devices/fe300000.mmc")
	if r.devices[0].Name != "soc.0" {
		t.Errorf("platform/ prefix not stripped: %q", r.devices[0].Name)
	}
	if r.devices[1].Name != "fe300000.mmc" {
		t.Errorf("/devices/ prefix not stripped: %q", r.devices[1].Name)
	}
}

func TestFindStrictPrefix(t *testing.T) {
	r := NewRegistry()
	r.Add("/devices/platform/soc.0")

	if d := r.Find("/devices/platform/soc.0/by.pci/mmcblk0p3"); d == nil || d.Name != "soc.0" {
		t.Fatalf("Find = %+v, want soc.0", d)
	}
	// 相等的路径不算前缀
	if d := r.Find("/devices/platform/soc.0"); d != nil {
		t.Fatal("exact path must not match")
	}
	// 前缀后必须紧跟 '/'
	if d := r.Find("/devices/platform/soc.01/x"); d != nil {
		t.Fatal("soc.01 must not match soc.0")
	}
}

func TestFindNewestWins(t *testing.T) {
	r := NewRegistry()
	r.Add("/devices/platform/soc")
	r.Add("/devices/platform/soc/bus.1")
	d := r.Find("/devices/platform/soc/bus.1/dev")
	if d == nil || d.Path != "/devices/platform/soc/bus.1" {
		t.Fatalf("Find = %+v, want the newest entry", d)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Add("/devices/platform/soc.0")
	r.Remove("/devices/platform/soc.0")
	if d := r.Find("/devices/platform/soc.0/leaf"); d != nil {
		t.Fatalf("removed device still found: %+v", d)
	}
}

func TestPCIPrefix(t *testing.T) {
	got, ok := PCIPrefix("/devices/pci0000:00/0000:00:1f.2/host0/target0:0:0")
	if !ok || got != "pci0000:00/0000:00:1f.2" {
		t.Fatalf("PCIPrefix = %q, %v", got, ok)
	}
	if _, ok := PCIPrefix("/devices/platform/soc.0"); ok {
		t.Fatal("non-PCI path must fail")
	}
	if _, ok := PCIPrefix("/devices/pci0000:00"); ok {
		t.Fatal("path without peripheral ID must fail")
	}
}
