package filter

import (
	"errors"
	"fmt"

	"github.com/xiaoxuxiansheng/golsm-filterbench/surf"
)

// 过滤器. 用于辅助 sstable 快速判定一个 key 是否存在于某个 block 中.
// sstable 每完成一个 block，会用该 block 内有序的 key 集合生成一份 filter 数据，
// 读流程在读盘之前调用 MayMatch，返回 false 时 key 一定不存在，可跳过本次磁盘读.
type Filter interface {
	// 过滤器名称. 会写入 sstable，filter 编码不兼容时名称必须不同
	Name() string
	// keys 由调用方保证按字节序非递减
	CreateFilter(keys [][]byte) []byte
	// filter 必须由同名过滤器的 CreateFilter 生成
	MayMatch(key, filter []byte) bool
}

// 支持范围判定的过滤器. 返回 false 表示 [start, end) 内一定不存在 key
type RangeFilter interface {
	Filter
	RangeMayMatch(start, end, filter []byte) bool
}

var ErrUnknownType = errors.New("unknown filter type")

// 过滤器类型，与命令行参数一一对应
type Type int

const (
	TypeBloom    Type = 0 // 布隆过滤器，每个 key 14 bit
	TypeSuRF     Type = 1 // SuRF，不带后缀
	TypeSuRFHash Type = 2 // SuRF，4 bit hash 后缀
	TypeSuRFReal Type = 3 // SuRF，4 bit 真实后缀
)

const typeUpperBound = 4

func (t Type) String() string {
	switch t {
	case TypeBloom:
		return "bloom"
	case TypeSuRF:
		return "surf"
	case TypeSuRFHash:
		return "surf-hash"
	case TypeSuRFReal:
		return "surf-real"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// 根据类型构造过滤器. 在 store 打开时调用一次
func NewFilter(t Type) (Filter, error) {
	switch t {
	case TypeBloom:
		return NewBloomFilter(14)
	case TypeSuRF:
		return NewSuRFFilter(surf.Options{SuffixType: surf.SuffixNone, IncludeDense: true, SparseDenseRatio: 16}), nil
	case TypeSuRFHash:
		return NewSuRFFilter(surf.Options{SuffixType: surf.SuffixHash, SuffixLen: 4, IncludeDense: true, SparseDenseRatio: 16}), nil
	case TypeSuRFReal:
		return NewSuRFFilter(surf.Options{SuffixType: surf.SuffixReal, SuffixLen: 4, IncludeDense: true, SparseDenseRatio: 16}), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
}

func ParseType(raw int) (Type, error) {
	if raw < 0 || raw >= typeUpperBound {
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, raw)
	}
	return Type(raw), nil
}
