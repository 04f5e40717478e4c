// Package workload 生成压测使用的 key 序列与 value.
// 相同的输入参数总是得到相同的输出，便于不同过滤器之间的结果对比
package workload

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
)

// 默认随机种子
const DefaultSeed = 2017

var ErrBadTrace = errors.New("bad trace file")

// key 序列生成器
type Generator interface {
	Keys() ([]uint64, error)
}

// 在 [0, KeyRange) 内均匀随机生成 Count 个 key
type Synthetic struct {
	Seed     uint64
	KeyRange uint64
	Count    int
}

func (s Synthetic) Keys() ([]uint64, error) {
	if s.KeyRange == 0 {
		return nil, errors.New("synthetic key range is zero")
	}
	if s.Count < 0 {
		return nil, fmt.Errorf("synthetic count %d is negative", s.Count)
	}

	rng := rand.New(rand.NewPCG(s.Seed, s.Seed))
	keys := make([]uint64, s.Count)
	for i := range keys {
		keys[i] = rng.Uint64N(s.KeyRange)
	}
	return keys, nil
}

// 回放 trace 文件中的 key. 文件内容为空白分隔的无符号整数，
// 最多读取 Limit 个（0 表示全部），保留下标能被 Stride 整除的 key
type TraceReplay struct {
	Path   string
	Limit  int
	Stride int
}

func (t TraceReplay) Keys() ([]uint64, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keys, err := t.read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Path, err)
	}
	return keys, nil
}

func (t TraceReplay) read(r io.Reader) ([]uint64, error) {
	stride := t.Stride
	if stride <= 0 {
		stride = 1
	}

	var (
		keys   []uint64
		total  int
		lineNo int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lineNo++
		for _, token := range strings.Fields(scanner.Text()) {
			if t.Limit > 0 && total >= t.Limit {
				return keys, nil
			}
			key, err := strconv.ParseUint(token, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %q", ErrBadTrace, lineNo, token)
			}
			if total%stride == 0 {
				keys = append(keys, key)
			}
			total++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// value 生成器. 前一半填 0，后一半填随机数，模拟压缩率约为 50% 的 value
type ValueGenerator struct {
	rng *rand.Rand
}

func NewValueGenerator(seed uint64) *ValueGenerator {
	return &ValueGenerator{
		rng: rand.New(rand.NewPCG(seed, seed)),
	}
}

// 填充 buf. 末尾不足 8 byte 的部分截断写入
func (g *ValueGenerator) Fill(buf []byte) {
	half := len(buf) / 2
	clear(buf[:half])

	var word [8]byte
	for pos := half; pos < len(buf); pos += 8 {
		binary.LittleEndian.PutUint64(word[:], g.rng.Uint64())
		copy(buf[pos:], word[:])
	}
}
