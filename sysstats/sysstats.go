// Package sysstats 读取压测前后的内存与磁盘 I/O 计数.
// 数据来源是按空白分隔、按位置解析的系统文件，读取失败时以 0 代替，不中断压测
package sysstats

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/phuslu/log"
)

const (
	DefaultMeminfoPath  = "/proc/meminfo"
	DefaultDiskStatPath = "/sys/block/sda/sda2/stat"
)

// meminfo 与磁盘 stat 文件中各字段所在的 token 下标
const (
	memFreeToken      = 4
	memAvailableToken = 7
	readIOToken       = 0
	writeIOToken      = 4
)

// 系统统计读取接口
type Reader interface {
	MemFree() (uint64, error)
	MemAvailable() (uint64, error)
	ReadIOCount() (uint64, error)
	WriteIOCount() (uint64, error)
}

// 基于 /proc 与 /sys 文件的实现
type ProcReader struct {
	MeminfoPath  string
	DiskStatPath string
}

func NewProcReader(meminfoPath, diskStatPath string) *ProcReader {
	if meminfoPath == "" {
		meminfoPath = DefaultMeminfoPath
	}
	if diskStatPath == "" {
		diskStatPath = DefaultDiskStatPath
	}
	return &ProcReader{
		MeminfoPath:  meminfoPath,
		DiskStatPath: diskStatPath,
	}
}

func (p *ProcReader) MemFree() (uint64, error) {
	return readToken(p.MeminfoPath, memFreeToken)
}

func (p *ProcReader) MemAvailable() (uint64, error) {
	return readToken(p.MeminfoPath, memAvailableToken)
}

func (p *ProcReader) ReadIOCount() (uint64, error) {
	return readToken(p.DiskStatPath, readIOToken)
}

func (p *ProcReader) WriteIOCount() (uint64, error) {
	return readToken(p.DiskStatPath, writeIOToken)
}

// 读取文件中第 i 个空白分隔的 token，解析为无符号整数
func readToken(file string, i int) (uint64, error) {
	body, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	tokens := strings.Fields(string(body))
	if i >= len(tokens) {
		return 0, fmt.Errorf("%s: token %d out of range, got %d tokens", file, i, len(tokens))
	}
	v, err := strconv.ParseUint(tokens[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: token %d: %w", file, i, err)
	}
	return v, nil
}

// 固定返回值的实现，用于测试
type Static struct {
	Free, Available, Reads, Writes uint64
}

func (s Static) MemFree() (uint64, error)      { return s.Free, nil }
func (s Static) MemAvailable() (uint64, error) { return s.Available, nil }
func (s Static) ReadIOCount() (uint64, error)  { return s.Reads, nil }
func (s Static) WriteIOCount() (uint64, error) { return s.Writes, nil }

// 某一时刻的系统统计
type Snapshot struct {
	MemFree      uint64
	MemAvailable uint64
	ReadIO       uint64
	WriteIO      uint64
}

// 两次快照之间的差值. 内存为 before - after（被占用的量），I/O 为 after - before
type Delta struct {
	MemFree      int64
	MemAvailable int64
	ReadIO       int64
	WriteIO      int64
}

// 读取一次快照. 单项读取失败时记录 warn 日志并以 0 代替
func Take(r Reader, logger *log.Logger) Snapshot {
	read := func(name string, fn func() (uint64, error)) uint64 {
		v, err := fn()
		if err != nil {
			logger.Warn().Err(err).Str("stat", name).Msg("read system stat failed")
			return 0
		}
		return v
	}

	return Snapshot{
		MemFree:      read("mem_free", r.MemFree),
		MemAvailable: read("mem_available", r.MemAvailable),
		ReadIO:       read("read_io", r.ReadIOCount),
		WriteIO:      read("write_io", r.WriteIOCount),
	}
}

func (s Snapshot) Delta(after Snapshot) Delta {
	return Delta{
		MemFree:      int64(s.MemFree) - int64(after.MemFree),
		MemAvailable: int64(s.MemAvailable) - int64(after.MemAvailable),
		ReadIO:       int64(after.ReadIO) - int64(s.ReadIO),
		WriteIO:      int64(after.WriteIO) - int64(s.WriteIO),
	}
}
