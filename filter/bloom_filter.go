package filter

import (
	"errors"
	"math"

	"github.com/spaolacci/murmur3"
)

const bloomFilterName = "golsm.BuiltinBloomFilter"

// 布隆过滤器. 只支持单点判定，没有范围的概念
type BloomFilter struct {
	bitsPerKey int // 每个 key 分配的 bit 数
	k          uint8
}

// 布隆过滤器构造器
func NewBloomFilter(bitsPerKey int) (*BloomFilter, error) {
	if bitsPerKey <= 0 {
		return nil, errors.New("bits per key must be postive")
	}
	return &BloomFilter{
		bitsPerKey: bitsPerKey,
		k:          bestK(bitsPerKey),
	}, nil
}

func (bf *BloomFilter) Name() string {
	return bloomFilterName
}

// 生成过滤器对应的 bitmap. 最后一个 byte 标识 k 的数值
func (bf *BloomFilter) CreateFilter(keys [][]byte) []byte {
	// bitmap 长度 m = n * bitsPerKey，过小时误判率过高，下限取 64 bit
	m := len(keys) * bf.bitsPerKey
	if m < 64 {
		m = 64
	}

	// 获取出一个空的 bitmap，最后一个 byte 位值设置为 k
	bitmap := bf.bitmap(m)
	bits := uint32(len(bitmap)-1) << 3

	// 第一个基准 hash 函数 h1 = murmur3.Sum32
	// 第二个基准 hash 函数 h2 = h1 >> 17 | h1 << 15
	// 之后所有使用的 hash 函数均通过 h1 和 h2 线性无关的组合生成
	// 第 i 个 hash 函数 gi = h1 + i * h2
	for _, key := range keys {
		hashedKey := murmur3.Sum32(key)
		delta := (hashedKey >> 17) | (hashedKey << 15)
		for i := uint32(0); i < uint32(bf.k); i++ {
			targetBit := (hashedKey + i*delta) % bits
			bitmap[targetBit>>3] |= 1 << (targetBit & 7)
		}
	}

	return bitmap
}

// 判断过滤器中是否存在 key（注意，可能存在假阳性误判问题）
func (bf *BloomFilter) MayMatch(key, filter []byte) bool {
	if len(filter) < 2 {
		return true
	}

	// 获取 hash 函数的个数 k
	k := filter[len(filter)-1]
	// 预留的编码方式，保守地认为存在
	if k > 30 {
		return true
	}

	bits := uint32(len(filter)-1) << 3
	hashedKey := murmur3.Sum32(key)
	delta := (hashedKey >> 17) | (hashedKey << 15)
	for i := uint32(0); i < uint32(k); i++ {
		targetBit := (hashedKey + i*delta) % bits
		// 找到对应的 bit 位，如果值为 0，则 key 肯定不存在
		if filter[targetBit>>3]&(1<<(targetBit&7)) == 0 {
			return false
		}
	}

	// key 映射的所有 bit 位均为 1，则认为 key 存在（存在误判概率）
	return true
}

// 生成一个空的 bitmap. m 单位为 bit
func (bf *BloomFilter) bitmap(m int) []byte {
	// bytes = bits / 8 (向上取整)
	bitmapLen := (m + 7) >> 3
	bitmap := make([]byte, bitmapLen+1)
	// 最后一位标识 k 的信息
	bitmap[bitmapLen] = bf.k
	return bitmap
}

// 根据 m/n 推算出最佳的 k
func bestK(bitsPerKey int) uint8 {
	// k 最佳计算公式：k = ln2 * m / n
	k := 69 * bitsPerKey / 100
	// k ∈ [1,30]
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint8(k)
}

// 理论误判率 (1 - e^{-kn/m})^k
func FalsePositiveRate(bitsPerKey int) float64 {
	k := float64(bestK(bitsPerKey))
	return math.Pow(1-math.Exp(-k/float64(bitsPerKey)), k)
}
