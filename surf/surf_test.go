package surf

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOptions = []Options{
	{SuffixType: SuffixNone, IncludeDense: true, SparseDenseRatio: 16},
	{SuffixType: SuffixNone, IncludeDense: false},
	{SuffixType: SuffixHash, SuffixLen: 4, IncludeDense: true, SparseDenseRatio: 16},
	{SuffixType: SuffixHash, SuffixLen: 8, IncludeDense: false},
	{SuffixType: SuffixReal, SuffixLen: 4, IncludeDense: true, SparseDenseRatio: 16},
	{SuffixType: SuffixReal, SuffixLen: 12, IncludeDense: true, SparseDenseRatio: 1},
	{SuffixType: SuffixReal, SuffixLen: 64, IncludeDense: false},
}

func uint64Keys(seed uint64, n int) [][]byte {
	r := rand.New(rand.NewPCG(seed, seed+1))
	nums := make([]uint64, n)
	for i := range nums {
		nums[i] = r.Uint64N(1 << 40)
	}
	slices.Sort(nums)
	keys := make([][]byte, n)
	for i, num := range nums {
		keys[i] = binary.BigEndian.AppendUint64(nil, num)
	}
	return keys
}

func stringKeys(raw ...string) [][]byte {
	sort.Strings(raw)
	keys := make([][]byte, len(raw))
	for i, s := range raw {
		keys[i] = []byte(s)
	}
	return keys
}

var mixedKeys = stringKeys("a", "ab", "abc", "abd", "abdzzzz", "b", "ba", "c\x00", "c\x00\x00", "f",
	"hello", "help", "helper", "\x00", "\xff", "\xff\xff\x01", "zzz")

func Test_SuRF_NoFalseNegative(t *testing.T) {
	keySets := map[string][][]byte{
		"single": uint64Keys(1, 1),
		"pair":   uint64Keys(2, 2),
		"small":  uint64Keys(3, 100),
		"large":  uint64Keys(4, 5000),
		"mixed":  mixedKeys,
	}
	for name, keys := range keySets {
		for _, opts := range allOptions {
			trie := New(keys, opts)
			for _, key := range keys {
				assert.True(t, trie.LookupKey(key), "set %s opts %+v key %x", name, opts, key)
			}
		}
	}
}

func Test_SuRF_Duplicates(t *testing.T) {
	keys := stringKeys("a", "a", "b", "b", "b", "c")
	trie := New(keys, Options{SuffixType: SuffixReal, SuffixLen: 8, IncludeDense: true})
	for _, key := range []string{"a", "b", "c"} {
		assert.True(t, trie.LookupKey([]byte(key)))
	}
	assert.False(t, trie.LookupKey([]byte("d")))
}

func Test_SuRF_EmptySet(t *testing.T) {
	trie := New(nil, Options{})
	assert.False(t, trie.LookupKey([]byte("a")))
	assert.False(t, trie.LookupKey(nil))
	assert.False(t, trie.LookupRange(nil, []byte{0xff}))
	assert.Equal(t, 0, trie.Height())

	restored, err := Deserialize(trie.Serialize())
	require.NoError(t, err)
	assert.Equal(t, trie, restored)
}

func Test_SuRF_EmptyKey(t *testing.T) {
	trie := New(stringKeys("", "a", "b"), Options{IncludeDense: true})
	assert.True(t, trie.LookupKey(nil))
	assert.True(t, trie.LookupKey([]byte("a")))
	assert.True(t, trie.LookupRange(nil, []byte("\x00")))

	trie = New(stringKeys("a", "b"), Options{IncludeDense: true})
	assert.False(t, trie.LookupKey(nil))
}

// 8 字节定长 key 配合 64 bit 真实后缀，树路径加后缀覆盖了完整 key，不存在误判
func Test_SuRF_RealSuffixExact(t *testing.T) {
	keys := uint64Keys(5, 3000)
	trie := New(keys, Options{SuffixType: SuffixReal, SuffixLen: 64, IncludeDense: true})

	r := rand.New(rand.NewPCG(9, 9))
	for i := 0; i < 10000; i++ {
		probe := binary.BigEndian.AppendUint64(nil, r.Uint64N(1<<40))
		_, found := slices.BinarySearchFunc(keys, probe, bytes.Compare)
		assert.Equal(t, found, trie.LookupKey(probe), "probe %x", probe)
	}
}

func Test_SuRF_PrefixKeys(t *testing.T) {
	trie := New(mixedKeys, Options{SuffixType: SuffixReal, SuffixLen: 8, IncludeDense: true, SparseDenseRatio: 1})
	// 前缀 key 在树中必须精确表示
	assert.False(t, trie.LookupKey([]byte("he")))
	assert.False(t, trie.LookupKey([]byte("abdz")))
	assert.False(t, trie.LookupKey([]byte("c")))
	assert.True(t, trie.LookupKey([]byte("c\x00")))
	assert.True(t, trie.LookupKey([]byte("help")))
}

// dense 与 sparse 只是编码方式不同，查询结果必须完全一致
func Test_SuRF_DenseSparseAgree(t *testing.T) {
	keys := uint64Keys(6, 2000)
	r := rand.New(rand.NewPCG(10, 10))
	probes := make([][]byte, 5000)
	for i := range probes {
		probes[i] = binary.BigEndian.AppendUint64(nil, r.Uint64N(1<<40))
	}

	for _, suffix := range []Options{
		{SuffixType: SuffixNone},
		{SuffixType: SuffixHash, SuffixLen: 4},
		{SuffixType: SuffixReal, SuffixLen: 4},
	} {
		sparseOpts, denseOpts, mostlyDenseOpts := suffix, suffix, suffix
		denseOpts.IncludeDense = true
		mostlyDenseOpts.IncludeDense, mostlyDenseOpts.SparseDenseRatio = true, 1

		sparse := New(keys, sparseOpts)
		dense := New(keys, denseOpts)
		mostlyDense := New(keys, mostlyDenseOpts)
		assert.Equal(t, uint32(0), sparse.cutoff)
		assert.Greater(t, dense.cutoff, uint32(0))
		assert.GreaterOrEqual(t, mostlyDense.cutoff, dense.cutoff)

		for i, probe := range probes {
			want := sparse.LookupKey(probe)
			assert.Equal(t, want, dense.LookupKey(probe))
			assert.Equal(t, want, mostlyDense.LookupKey(probe))

			end := binary.BigEndian.AppendUint64(nil, binary.BigEndian.Uint64(probe)+uint64(i%500)+1)
			wantRange := sparse.LookupRange(probe, end)
			assert.Equal(t, wantRange, dense.LookupRange(probe, end))
			assert.Equal(t, wantRange, mostlyDense.LookupRange(probe, end))
		}
	}
}

func Test_SuRF_Serialize(t *testing.T) {
	for _, opts := range allOptions {
		for _, keys := range [][][]byte{uint64Keys(7, 1000), mixedKeys} {
			trie := New(keys, opts)
			restored, err := Deserialize(trie.Serialize())
			require.NoError(t, err)
			assert.Equal(t, trie, restored)
			for _, key := range keys {
				assert.True(t, restored.LookupKey(key))
			}
		}
	}
}

func Test_SuRF_DeserializeCorrupt(t *testing.T) {
	data := New(uint64Keys(8, 100), Options{SuffixType: SuffixHash, SuffixLen: 4, IncludeDense: true}).Serialize()

	_, err := Deserialize(nil)
	assert.ErrorIs(t, err, ErrCorruptFilter)

	_, err = Deserialize([]byte("not a surf"))
	assert.ErrorIs(t, err, ErrCorruptFilter)

	_, err = Deserialize(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrCorruptFilter)

	_, err = Deserialize(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrCorruptFilter)
}

func Test_SuRF_LookupRange(t *testing.T) {
	keys := [][]byte{
		binary.BigEndian.AppendUint64(nil, 100),
		binary.BigEndian.AppendUint64(nil, 200),
		binary.BigEndian.AppendUint64(nil, 300),
	}
	encode := func(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

	trie := New(keys, Options{SuffixType: SuffixReal, SuffixLen: 64, IncludeDense: true})
	assert.True(t, trie.LookupRange(encode(150), encode(250)))
	assert.True(t, trie.LookupRange(encode(200), encode(201)))
	assert.True(t, trie.LookupRange(encode(0), encode(101)))
	assert.False(t, trie.LookupRange(encode(0), encode(100)))
	assert.False(t, trie.LookupRange(encode(210), encode(215)))
	assert.False(t, trie.LookupRange(encode(301), encode(1000)))
	assert.False(t, trie.LookupRange(encode(250), encode(150)))
	assert.False(t, trie.LookupRange(encode(200), encode(200)))
}

func Test_SuRF_LookupRangeNoFalseNegative(t *testing.T) {
	keys := uint64Keys(11, 2000)
	r := rand.New(rand.NewPCG(12, 12))
	for _, opts := range allOptions {
		trie := New(keys, opts)
		for i := 0; i < 2000; i++ {
			lo := r.Uint64N(1 << 40)
			hi := lo + r.Uint64N(1<<30) + 1
			start, end := binary.BigEndian.AppendUint64(nil, lo), binary.BigEndian.AppendUint64(nil, hi)

			idx, _ := slices.BinarySearchFunc(keys, start, bytes.Compare)
			exist := idx < len(keys) && bytes.Compare(keys[idx], end) < 0
			if exist {
				assert.True(t, trie.LookupRange(start, end), "opts %+v range [%d, %d)", opts, lo, hi)
			}
		}
	}

	trie := New(mixedKeys, Options{SuffixType: SuffixReal, SuffixLen: 8, IncludeDense: true, SparseDenseRatio: 1})
	for i, key := range mixedKeys {
		end := append(slices.Clone(key), 0)
		assert.True(t, trie.LookupRange(key, end), "key %q", key)
		if i > 0 {
			assert.True(t, trie.LookupRange(mixedKeys[i-1], key), "key %q", key)
		}
	}
	assert.False(t, trie.LookupRange([]byte("abe"), []byte("b")))
	assert.True(t, trie.LookupRange([]byte("abe"), []byte("b\x00")))
}
