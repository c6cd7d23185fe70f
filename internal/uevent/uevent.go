package uevent

import (
	"bytes"
	"strings"
)

// Event 内核 uevent 消息解码后的结构
// 数值字段缺省为 -1，字符串字段缺省为空串
type Event struct {
	Action        string
	Path          string // DEVPATH, 以 /devices/ 开头
	Subsystem     string
	Firmware      string
	PartitionName string
	DeviceName    string
	Modalias      string
	PartitionNum  int
	Major         int
	Minor         int
}

// Parse 解析 netlink 收到的一条 uevent 报文
// 报文格式: "add@/devices/..." 头部 + NUL 分隔的 KEY=VALUE 序列
// 未知的 KEY 直接跳过 (SEQNUM 也被忽略)
func Parse(msg []byte) *Event {
	e := &Event{
		Major:        -1,
		Minor:        -1,
		PartitionNum: -1,
	}

	for _, field := range bytes.Split(msg, []byte{0}) {
		s := string(field)
		switch {
		case strings.HasPrefix(s, "ACTION="):
			e.Action = s[len("ACTION="):]
		case strings.HasPrefix(s, "DEVPATH="):
			e.Path = s[len("DEVPATH="):]
		case strings.HasPrefix(s, "SUBSYSTEM="):
			e.Subsystem = s[len("SUBSYSTEM="):]
		case strings.HasPrefix(s, "FIRMWARE="):
			e.Firmware = s[len("FIRMWARE="):]
		case strings.HasPrefix(s, "MAJOR="):
			e.Major = atoi(s[len("MAJOR="):])
		case strings.HasPrefix(s, "MINOR="):
			e.Minor = atoi(s[len("MINOR="):])
		case strings.HasPrefix(s, "PARTN="):
			e.PartitionNum = atoi(s[len("PARTN="):])
		case strings.HasPrefix(s, "PARTNAME="):
			e.PartitionName = s[len("PARTNAME="):]
		case strings.HasPrefix(s, "DEVNAME="):
			e.DeviceName = s[len("DEVNAME="):]
		case strings.HasPrefix(s, "MODALIAS="):
			e.Modalias = s[len("MODALIAS="):]
		}
	}
	return e
}

// atoi 模拟 C 的 atoi: 只取前导数字，垃圾输入得 0
func atoi(s string) int {
	n := 0
	neg := false
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}
