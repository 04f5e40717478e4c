package surf

import (
	"encoding/binary"
	"math/bits"
	"sort"
)

// 定长 bit 数组，附带 rank 目录，支持 O(1) rank 与 O(log n) select
type bitVector struct {
	numBits uint32
	words   []uint64
	ranks   []uint32 // ranks[i] 为前 i 个 word 中 1 的个数
}

func newBitVector(numBits uint32) *bitVector {
	return &bitVector{
		numBits: numBits,
		words:   make([]uint64, (uint64(numBits)+63)/64),
	}
}

func (b *bitVector) set(i uint32) {
	b.words[i>>6] |= 1 << (i & 63)
}

func (b *bitVector) get(i uint32) bool {
	return b.words[i>>6]&(1<<(i&63)) != 0
}

// 写入完成后构建 rank 目录
func (b *bitVector) buildRank() {
	b.ranks = make([]uint32, len(b.words)+1)
	for i, w := range b.words {
		b.ranks[i+1] = b.ranks[i] + uint32(bits.OnesCount64(w))
	}
}

// [0, i) 区间内 1 的个数
func (b *bitVector) rank(i uint32) uint32 {
	word := i >> 6
	r := b.ranks[word]
	if off := i & 63; off > 0 {
		r += uint32(bits.OnesCount64(b.words[word] & (1<<off - 1)))
	}
	return r
}

func (b *bitVector) ones() uint32 {
	return b.ranks[len(b.words)]
}

// 第 k 个 1 所在的位置，k 从 0 开始. 调用方保证 k < ones()
func (b *bitVector) selectOne(k uint32) uint32 {
	w := sort.Search(len(b.words), func(i int) bool {
		return b.ranks[i+1] > k
	})
	word := b.words[w]
	for remain := k - b.ranks[w]; remain > 0; remain-- {
		// 消去最低位的 1
		word &= word - 1
	}
	return uint32(w)<<6 + uint32(bits.TrailingZeros64(word))
}

// 自 from 起（含）第一个为 1 的位置，不超过 limit（不含）
func (b *bitVector) nextOne(from, limit uint32) (uint32, bool) {
	for from < limit {
		word := b.words[from>>6] >> (from & 63)
		if word == 0 {
			from = (from | 63) + 1
			continue
		}
		pos := from + uint32(bits.TrailingZeros64(word))
		if pos >= limit {
			return 0, false
		}
		return pos, true
	}
	return 0, false
}

// numBits | words（小端）
func (b *bitVector) appendTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(b.numBits))
	for _, w := range b.words {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	return dst
}
