package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_LRU_Evict(t *testing.T) {
	lru := NewLRU(10)
	lru.Put(BlockKey{File: "0_0.sst", Offset: 0}, []byte("aaaa"))
	lru.Put(BlockKey{File: "0_0.sst", Offset: 4}, []byte("bbbb"))

	// 访问第一个 block，使第二个 block 成为最久未使用
	val, ok := lru.Get(BlockKey{File: "0_0.sst", Offset: 0})
	assert.True(t, ok)
	assert.Equal(t, []byte("aaaa"), val)

	lru.Put(BlockKey{File: "0_1.sst", Offset: 0}, []byte("cccc"))
	_, ok = lru.Get(BlockKey{File: "0_0.sst", Offset: 4})
	assert.False(t, ok)
	_, ok = lru.Get(BlockKey{File: "0_0.sst", Offset: 0})
	assert.True(t, ok)
	assert.Equal(t, 8, lru.Size())
	assert.Equal(t, 2, lru.Len())

	hits, misses := lru.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
}

func Test_LRU_Overwrite(t *testing.T) {
	lru := NewLRU(10)
	key := BlockKey{File: "1_0.sst", Offset: 16}
	lru.Put(key, []byte("aa"))
	lru.Put(key, []byte("bbbbbb"))
	val, ok := lru.Get(key)
	assert.True(t, ok)
	assert.Equal(t, []byte("bbbbbb"), val)
	assert.Equal(t, 6, lru.Size())

	// 超过容量的 value 不缓存
	lru.Put(BlockKey{File: "1_0.sst", Offset: 32}, make([]byte, 11))
	assert.Equal(t, 1, lru.Len())
}

func Test_LRU_Disabled(t *testing.T) {
	lru := NewLRU(0)
	lru.Put(BlockKey{File: "0_0.sst"}, []byte("a"))
	_, ok := lru.Get(BlockKey{File: "0_0.sst"})
	assert.False(t, ok)
}

func Test_LRU_EvictFile(t *testing.T) {
	lru := NewLRU(100)
	lru.Put(BlockKey{File: "0_0.sst", Offset: 0}, []byte("a"))
	lru.Put(BlockKey{File: "0_0.sst", Offset: 1}, []byte("b"))
	lru.Put(BlockKey{File: "0_1.sst", Offset: 0}, []byte("c"))

	lru.EvictFile("0_0.sst")
	assert.Equal(t, 1, lru.Len())
	assert.Equal(t, 1, lru.Size())
	_, ok := lru.Get(BlockKey{File: "0_1.sst", Offset: 0})
	assert.True(t, ok)
}
