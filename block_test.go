package golsm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Block_ToBytes(t *testing.T) {
	block := NewBlock()
	block.Append([]byte("a"), []byte("b"))
	block.Append([]byte("b"), []byte("c"))
	block.Append([]byte("bcd"), []byte("d"))
	block.Append([]byte("bce"), []byte("e"))

	// 每条记录: sharedPrefixLen | keyLen | valLen | key 的非共享部分 | value
	records := []struct {
		shared, keyLen, valLen uint64
		payload                string
	}{
		{0, 1, 1, "ab"},
		{0, 1, 1, "bc"},
		{1, 2, 1, "cdd"},
		{2, 1, 1, "ee"},
	}
	var expect []byte
	for _, r := range records {
		expect = binary.AppendUvarint(expect, r.shared)
		expect = binary.AppendUvarint(expect, r.keyLen)
		expect = binary.AppendUvarint(expect, r.valLen)
		expect = append(expect, r.payload...)
	}
	assert.Equal(t, expect, block.ToBytes())
}

func Test_Block_FlushTo_Decode(t *testing.T) {
	keys := []string{"a", "b", "bcd", "bce", "bcf"}
	for _, compress := range []bool{false, true} {
		block := NewBlock()
		for _, key := range keys {
			block.Append([]byte(key), []byte("v_"+key))
		}
		assert.Equal(t, len(keys), block.EntriesCnt())

		var buf bytes.Buffer
		n, err := block.FlushTo(&buf, compress)
		require.NoError(t, err)
		assert.Equal(t, uint64(buf.Len()), n)
		assert.Equal(t, 0, block.EntriesCnt())
		assert.Equal(t, 0, block.Size())

		raw := buf.Bytes()
		if compress {
			raw, err = snappy.Decode(nil, raw)
			require.NoError(t, err)
		}
		kvs, err := decodeBlock(raw)
		require.NoError(t, err)
		require.Len(t, kvs, len(keys))
		for i, key := range keys {
			assert.Equal(t, key, string(kvs[i].Key))
			assert.Equal(t, "v_"+key, string(kvs[i].Value))
		}
	}
}

func Test_decodeBlock_Corrupt(t *testing.T) {
	block := NewBlock()
	block.Append([]byte("abc"), []byte("value"))
	block.Append([]byte("abd"), []byte("value"))
	raw := append([]byte{}, block.ToBytes()...)

	// 截断在 value 中间
	_, err := decodeBlock(raw[:len(raw)-2])
	assert.True(t, errors.Is(err, errCorruptBlock))

	// 共享前缀长度超过前一个 key
	bad := []byte{5, 1, 1, 'a', 'b'}
	_, err = decodeBlock(bad)
	assert.True(t, errors.Is(err, errCorruptBlock))

	kvs, err := decodeBlock(nil)
	require.NoError(t, err)
	assert.Empty(t, kvs)
}
