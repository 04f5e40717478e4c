package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoxuxiansheng/golsm-filterbench/surf"
	"github.com/xiaoxuxiansheng/golsm-filterbench/util"
)

func blockKeys(nums ...uint64) [][]byte {
	keys := make([][]byte, 0, len(nums))
	for _, num := range nums {
		keys = append(keys, util.EncodeKey(num))
	}
	return keys
}

func Test_NewFilter(t *testing.T) {
	tests := []struct {
		typ  Type
		name string
		opts surf.Options
	}{
		{typ: TypeBloom, name: "golsm.BuiltinBloomFilter"},
		{typ: TypeSuRF, name: "golsm.BuiltinSuRF", opts: surf.Options{SuffixType: surf.SuffixNone, IncludeDense: true, SparseDenseRatio: 16}},
		{typ: TypeSuRFHash, name: "golsm.BuiltinSuRF", opts: surf.Options{SuffixType: surf.SuffixHash, SuffixLen: 4, IncludeDense: true, SparseDenseRatio: 16}},
		{typ: TypeSuRFReal, name: "golsm.BuiltinSuRF", opts: surf.Options{SuffixType: surf.SuffixReal, SuffixLen: 4, IncludeDense: true, SparseDenseRatio: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			f, err := NewFilter(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.name, f.Name())
			if sf, ok := f.(*SuRFFilter); ok {
				assert.Equal(t, tt.opts, sf.Options())
			}

			keys := blockKeys(100, 200, 300, 1<<40, 1<<41+7)
			data := f.CreateFilter(keys)
			for _, key := range keys {
				assert.True(t, f.MayMatch(key, data))
			}
		})
	}

	_, err := NewFilter(Type(4))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func Test_ParseType(t *testing.T) {
	for raw := 0; raw < 4; raw++ {
		typ, err := ParseType(raw)
		require.NoError(t, err)
		assert.Equal(t, Type(raw), typ)
	}

	_, err := ParseType(-1)
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = ParseType(4)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func Test_SuRFFilter_RangeMayMatch(t *testing.T) {
	f, err := NewFilter(TypeSuRFReal)
	require.NoError(t, err)
	rf, ok := f.(RangeFilter)
	require.True(t, ok)

	data := rf.CreateFilter(blockKeys(100, 200, 300))
	assert.True(t, rf.RangeMayMatch(util.EncodeKey(150), util.EncodeKey(250), data))
	assert.False(t, rf.RangeMayMatch(util.EncodeKey(1000), util.EncodeKey(2000), data))

	// 布隆过滤器不支持范围判定
	bloom, err := NewFilter(TypeBloom)
	require.NoError(t, err)
	_, ok = bloom.(RangeFilter)
	assert.False(t, ok)
}

func Test_SuRFFilter_Corrupt(t *testing.T) {
	f, err := NewFilter(TypeSuRFHash)
	require.NoError(t, err)
	rf := f.(RangeFilter)

	// 无法解析时不能否定 key
	assert.True(t, rf.MayMatch(util.EncodeKey(1), []byte("garbage")))
	assert.True(t, rf.RangeMayMatch(util.EncodeKey(1), util.EncodeKey(2), nil))
}
