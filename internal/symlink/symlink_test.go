package symlink

import (
	"os"
	"reflect"
	"testing"

	"github.com/Hara602/devSentry/internal/platform"
	"github.com/Hara602/devSentry/internal/sysutil"
	"github.com/Hara602/devSentry/internal/uevent"
)

func TestMain(m *testing.M) {
	sysutil.InitLogger()
	os.Exit(m.Run())
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"system":        "system",
		"user data/bad": "user_data_bad",
		"a.b_c-D9":      "a.b_c-D9",
		"汉":             "___", // 多字节字符逐字节替换
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
	// 幂等且保长
	for in := range cases {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q", in)
		}
		if len(Sanitize(in)) != len(in) {
			t.Errorf("Sanitize changed length of %q", in)
		}
	}
}

func TestBlockLinksPlatform(t *testing.T) {
	reg := platform.NewRegistry()
	reg.Add("/devices/platform/soc.0")

	e := &uevent.Event{
		Action:        "add",
		Path:          "/devices/platform/soc.0/by.pci/mmcblk0p3",
		Subsystem:     "block",
		Major:         179,
		Minor:         3,
		PartitionNum:  3,
		PartitionName: "system",
	}
	want := []string{
		"/dev/block/platform/soc.0/by-name/system",
		"/dev/block/platform/soc.0/by-num/p3",
		"/dev/block/platform/soc.0/mmcblk0p3",
	}
	if got := BlockLinks(reg, e); !reflect.DeepEqual(got, want) {
		t.Fatalf("BlockLinks = %v, want %v", got, want)
	}
}

func TestBlockLinksSanitizesPartName(t *testing.T) {
	reg := platform.NewRegistry()
	reg.Add("/devices/platform/soc.0")
	e := &uevent.Event{
		Path:          "/devices/platform/soc.0/mmcblk0p7",
		PartitionName: "user data/bad",
		PartitionNum:  -1,
	}
	got := BlockLinks(reg, e)
	if got[0] != "/dev/block/platform/soc.0/by-name/user_data_bad" {
		t.Fatalf("by-name link = %q", got[0])
	}
}

func TestBlockLinksPCIFallback(t *testing.T) {
	reg := platform.NewRegistry()
	e := &uevent.Event{
		Path:         "/devices/pci0000:00/0000:00:1f.2/host0/target0:0:0/0:0:0:0/block/sda",
		PartitionNum: -1,
	}
	want := []string{"/dev/block/pci/pci0000:00/0000:00:1f.2/sda"}
	if got := BlockLinks(reg, e); !reflect.DeepEqual(got, want) {
		t.Fatalf("BlockLinks = %v, want %v", got, want)
	}
}

func TestBlockLinksNoParent(t *testing.T) {
	reg := platform.NewRegistry()
	e := &uevent.Event{Path: "/devices/virtual/block/loop0", PartitionNum: -1}
	if got := BlockLinks(reg, e); got != nil {
		t.Fatalf("expected no links, got %v", got)
	}
}

func TestBlockLinksAfterRemove(t *testing.T) {
	reg := platform.NewRegistry()
	reg.Add("/devices/platform/soc.0")
	reg.Remove("/devices/platform/soc.0")
	e := &uevent.Event{Path: "/devices/platform/soc.0/mmcblk0", PartitionNum: -1}
	if got := BlockLinks(reg, e); got != nil {
		t.Fatalf("removed platform device still produced %v", got)
	}
}

func TestCharLinksUSBInterface(t *testing.T) {
	reg := platform.NewRegistry()
	reg.Add("/devices/platform/msm_hsusb_host.0")
	e := &uevent.Event{
		Path:      "/devices/platform/msm_hsusb_host.0/usb1/1-1/1-1:1.0/ttyUSB0",
		Subsystem: "tty",
	}
	want := []string{"/dev/usb/tty1-1:1.0"}
	if got := CharLinks(reg, e); !reflect.DeepEqual(got, want) {
		t.Fatalf("CharLinks = %v, want %v", got, want)
	}
}

func TestCharLinksNonUSB(t *testing.T) {
	reg := platform.NewRegistry()
	reg.Add("/devices/platform/soc.0")
	e := &uevent.Event{Path: "/devices/platform/soc.0/i2c-1/dev", Subsystem: "i2c"}
	if got := CharLinks(reg, e); got != nil {
		t.Fatalf("non-usb path produced %v", got)
	}
}

func TestCharLinksTooShallow(t *testing.T) {
	reg := platform.NewRegistry()
	reg.Add("/devices/platform/msm_hsusb_host.0")
	// 接口段之后没有内容
	e := &uevent.Event{
		Path:      "/devices/platform/msm_hsusb_host.0/usb1/1-1/1-1:1.0",
		Subsystem: "usb",
	}
	if got := CharLinks(reg, e); got != nil {
		t.Fatalf("shallow path produced %v", got)
	}
}
