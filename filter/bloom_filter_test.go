package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_BloomFilter_CreateFilter_MayMatch(t *testing.T) {
	bf, err := NewBloomFilter(16)
	if err != nil {
		t.Error(err)
		return
	}

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	bitmap := bf.CreateFilter(keys)
	for _, key := range keys {
		if ok := bf.MayMatch(key, bitmap); !ok {
			t.Errorf("key: %s, expect: true, got: false", key)
		}
	}

	if ok := bf.MayMatch([]byte("e"), bitmap); ok {
		t.Errorf("key: %v, expect: false, got: true", "e")
	}
}

func Test_BloomFilter_Layout(t *testing.T) {
	bf, err := NewBloomFilter(8)
	require.NoError(t, err)

	// 2 个 key 只需要 16 bit，取下限 64 bit，再加 1 byte 的 k
	bitmap := bf.CreateFilter([][]byte{[]byte("a"), []byte("b")})
	assert.Len(t, bitmap, 9)
	assert.Equal(t, uint8(5), bitmap[len(bitmap)-1])

	bitmap = bf.CreateFilter(make([][]byte, 100))
	assert.Len(t, bitmap, 101)
}

func Test_BloomFilter_FalsePositive(t *testing.T) {
	bf, err := NewBloomFilter(14)
	require.NoError(t, err)

	keys := make([][]byte, 0, 10000)
	for i := 0; i < 10000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}
	bitmap := bf.CreateFilter(keys)
	for _, key := range keys {
		require.True(t, bf.MayMatch(key, bitmap))
	}

	var hits int
	for i := 0; i < 10000; i++ {
		if bf.MayMatch([]byte(fmt.Sprintf("absent-%d", i)), bitmap) {
			hits++
		}
	}
	// 理论误判率约 0.2%，留出足够余量
	assert.Less(t, hits, 100)
	assert.Less(t, FalsePositiveRate(14), 0.01)
}

func Test_BloomFilter_Malformed(t *testing.T) {
	bf, err := NewBloomFilter(10)
	require.NoError(t, err)

	assert.True(t, bf.MayMatch([]byte("a"), nil))
	assert.True(t, bf.MayMatch([]byte("a"), []byte{0}))
	// k 超出范围，视为新的编码格式
	assert.True(t, bf.MayMatch([]byte("a"), []byte{0, 0, 0, 31}))

	_, err = NewBloomFilter(0)
	assert.Error(t, err)
}

func Test_bestK(t *testing.T) {
	assert.Equal(t, uint8(1), bestK(1))
	assert.Equal(t, uint8(9), bestK(14))
	assert.Equal(t, uint8(30), bestK(100))
}
