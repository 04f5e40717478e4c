package surf

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// 叶子节点上额外保留的后缀类型
type SuffixType uint8

const (
	SuffixNone SuffixType = iota // 不保留后缀
	SuffixHash                   // 保留 key 整体 hash 值的低若干 bit
	SuffixReal                   // 保留树路径之后真实的若干 bit
)

func (t SuffixType) String() string {
	switch t {
	case SuffixHash:
		return "hash"
	case SuffixReal:
		return "real"
	}
	return "none"
}

const maxSuffixLen = 64

// 按固定 bit 宽度紧凑存放的后缀数组
type suffixVector struct {
	width uint32
	count uint32
	words []uint64
}

func newSuffixVector(width, count uint32) *suffixVector {
	return &suffixVector{
		width: width,
		count: count,
		words: make([]uint64, (uint64(width)*uint64(count)+63)/64),
	}
}

func (s *suffixVector) set(i uint32, v uint64) {
	if s.width == 0 {
		return
	}
	v &= suffixMask(s.width)
	pos := uint64(i) * uint64(s.width)
	word, off := pos>>6, pos&63
	s.words[word] |= v << off
	// 跨 word 存放
	if off+uint64(s.width) > 64 {
		s.words[word+1] |= v >> (64 - off)
	}
}

func (s *suffixVector) get(i uint32) uint64 {
	if s.width == 0 {
		return 0
	}
	pos := uint64(i) * uint64(s.width)
	word, off := pos>>6, pos&63
	v := s.words[word] >> off
	if off+uint64(s.width) > 64 {
		v |= s.words[word+1] << (64 - off)
	}
	return v & suffixMask(s.width)
}

func (s *suffixVector) appendTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(s.width))
	dst = binary.AppendUvarint(dst, uint64(s.count))
	for _, w := range s.words {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	return dst
}

func suffixMask(width uint32) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<width - 1
}

// 计算 key 在深度 depth 处终止时对应的后缀
func suffixOf(t SuffixType, width uint32, key []byte, depth int) uint64 {
	switch t {
	case SuffixHash:
		return murmur3.Sum64(key) & suffixMask(width)
	case SuffixReal:
		return realSuffix(key, depth, width)
	}
	return 0
}

// key[depth:] 的前 width 个 bit，按大端解释，长度不足补 0
func realSuffix(key []byte, depth int, width uint32) uint64 {
	if width == 0 {
		return 0
	}
	nBytes := int((width + 7) / 8)
	var v uint64
	for i := 0; i < nBytes; i++ {
		v <<= 8
		if idx := depth + i; idx < len(key) {
			v |= uint64(key[idx])
		}
	}
	return v >> (uint32(nBytes)*8 - width)
}
