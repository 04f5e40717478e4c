package surf

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_bitVector_rankSelect(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, numBits := range []uint32{1, 63, 64, 65, 200, 1024, 3001} {
		bv := newBitVector(numBits)
		var ones []uint32
		for i := uint32(0); i < numBits; i++ {
			if r.IntN(3) == 0 {
				bv.set(i)
				ones = append(ones, i)
			}
		}
		bv.buildRank()

		require.Equal(t, uint32(len(ones)), bv.ones())
		for k, pos := range ones {
			assert.Equal(t, pos, bv.selectOne(uint32(k)))
			assert.Equal(t, uint32(k), bv.rank(pos))
			assert.Equal(t, uint32(k+1), bv.rank(pos+1))
			assert.True(t, bv.get(pos))
		}
		assert.Equal(t, uint32(len(ones)), bv.rank(numBits))
	}
}

func Test_bitVector_nextOne(t *testing.T) {
	bv := newBitVector(300)
	for _, i := range []uint32{3, 64, 130, 299} {
		bv.set(i)
	}
	bv.buildRank()

	pos, ok := bv.nextOne(0, 300)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), pos)

	pos, ok = bv.nextOne(4, 300)
	assert.True(t, ok)
	assert.Equal(t, uint32(64), pos)

	pos, ok = bv.nextOne(65, 300)
	assert.True(t, ok)
	assert.Equal(t, uint32(130), pos)

	_, ok = bv.nextOne(131, 299)
	assert.False(t, ok)

	pos, ok = bv.nextOne(131, 300)
	assert.True(t, ok)
	assert.Equal(t, uint32(299), pos)
}

func Test_suffixVector(t *testing.T) {
	for _, width := range []uint32{1, 4, 7, 13, 64} {
		sv := newSuffixVector(width, 100)
		want := make([]uint64, 100)
		r := rand.New(rand.NewPCG(uint64(width), 7))
		for i := range want {
			want[i] = r.Uint64() & suffixMask(width)
			sv.set(uint32(i), want[i])
		}
		for i, v := range want {
			assert.Equal(t, v, sv.get(uint32(i)), "width %d index %d", width, i)
		}
	}
}

func Test_realSuffix(t *testing.T) {
	key := []byte{0xab, 0xcd, 0xef}
	assert.Equal(t, uint64(0xa), realSuffix(key, 0, 4))
	assert.Equal(t, uint64(0xcd), realSuffix(key, 1, 8))
	assert.Equal(t, uint64(0xef00), realSuffix(key, 2, 16))
	assert.Equal(t, uint64(0), realSuffix(key, 3, 8))
	assert.Equal(t, uint64(0xabc), realSuffix(key, 0, 12))
}
