package golsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/util"
)

// 遍历迭代器，返回全部 key
func collectKeys(t *testing.T, it *Iterator, start []byte) []uint64 {
	t.Helper()
	var keys []uint64
	for it.Seek(start); it.Valid(); it.Next() {
		key, ok := util.DecodeKey(it.Key())
		require.True(t, ok)
		keys = append(keys, key)
	}
	require.NoError(t, it.Err())
	return keys
}

func Test_Iterator(t *testing.T) {
	for _, typ := range []filter.Type{filter.TypeBloom, filter.TypeSuRF, filter.TypeSuRFReal} {
		t.Run(typ.String(), func(t *testing.T) {
			f, err := filter.NewFilter(typ)
			require.NoError(t, err)
			lsmTree, err := NewTree(newTestConfig(t, t.TempDir(), WithFilter(f)))
			require.NoError(t, err)
			defer lsmTree.Close()

			// key 为 0, 10, 20 ... 9990
			for i := uint64(0); i < 1000; i++ {
				require.NoError(t, lsmTree.Put(util.EncodeKey(i*10), []byte("old")))
			}
			// 覆盖写一部分，迭代器只返回最新版本
			for i := uint64(0); i < 1000; i += 3 {
				require.NoError(t, lsmTree.Put(util.EncodeKey(i*10), []byte("new")))
			}

			it := lsmTree.NewIterator()
			keys := collectKeys(t, it, nil)
			it.Close()
			require.Len(t, keys, 1000)
			for i, key := range keys {
				assert.Equal(t, uint64(i*10), key)
			}

			// [105, 205) 内的 key 为 110 ~ 200
			it = lsmTree.NewIterator(WithUpperBound(util.EncodeKey(205)))
			keys = collectKeys(t, it, util.EncodeKey(105))
			assert.Equal(t, []uint64{110, 120, 130, 140, 150, 160, 170, 180, 190, 200}, keys)

			// 与数据不相交的范围
			keys = collectKeys(t, it, util.EncodeKey(205))
			assert.Empty(t, keys)
			it.Close()

			it = lsmTree.NewIterator(WithUpperBound(util.EncodeKey(35)))
			keys = collectKeys(t, it, util.EncodeKey(31))
			assert.Empty(t, keys)
			it.Close()

			// 检查覆盖写的版本
			it = lsmTree.NewIterator()
			for it.Seek(nil); it.Valid(); it.Next() {
				key, _ := util.DecodeKey(it.Key())
				expect := "old"
				if (key/10)%3 == 0 {
					expect = "new"
				}
				assert.Equal(t, expect, string(it.Value()), "key: %d", key)
			}
			it.Close()
		})
	}
}

func Test_Iterator_Empty(t *testing.T) {
	lsmTree, err := NewTree(newTestConfig(t, t.TempDir()))
	require.NoError(t, err)
	defer lsmTree.Close()

	it := lsmTree.NewIterator()
	defer it.Close()
	it.Seek(nil)
	assert.False(t, it.Valid())
	assert.NoError(t, it.Err())
}

func Test_Iterator_HoldsNodes(t *testing.T) {
	lsmTree, err := NewTree(newTestConfig(t, t.TempDir()))
	require.NoError(t, err)

	for i := uint64(0); i < 2000; i++ {
		require.NoError(t, lsmTree.Put(util.EncodeKey(i), []byte("v")))
	}
	it := lsmTree.NewIterator()

	// tree 关闭后，迭代器持有的节点仍然可读
	require.NoError(t, lsmTree.Close())
	keys := collectKeys(t, it, nil)
	it.Close()
	it.Close()

	for i, key := range keys {
		assert.Equal(t, uint64(i), key)
	}
	assert.Len(t, keys, 2000)
}
