package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_SharedPrefixLen(t *testing.T) {
	assert.Equal(t, SharedPrefixLen([]byte("a"), nil), 0)
	assert.Equal(t, SharedPrefixLen([]byte("ab"), []byte("abc")), 2)
	assert.Equal(t, SharedPrefixLen([]byte("ab"), []byte("c")), 0)
}

func Test_GetSeparatorBetween(t *testing.T) {
	assert.Equal(t, GetSeparatorBetween(nil, []byte("b")), []byte("a"))
	assert.Equal(t, GetSeparatorBetween([]byte("abcd"), []byte("abcde")), []byte("abcd"))
	assert.Equal(t, GetSeparatorBetween([]byte("abcd"), []byte("abce")), []byte("abcd"))
}

func Test_GetSeparatorBetween_TrailingZero(t *testing.T) {
	// 256 的大端编码末位为 0
	key := EncodeKey(256)
	sep := GetSeparatorBetween(nil, key)
	assert.True(t, bytes.Compare(sep, key) < 0)
	assert.Equal(t, key[:7], sep)

	assert.Equal(t, []byte{}, GetSeparatorBetween(nil, nil))
}

func Test_EncodeDecodeKey(t *testing.T) {
	tests := []uint64{0, 1, 100, 255, 256, 1 << 40, ^uint64(0)}
	for i := 1; i < len(tests); i++ {
		prev, cur := EncodeKey(tests[i-1]), EncodeKey(tests[i])
		assert.True(t, bytes.Compare(prev, cur) < 0, "byte order must follow numeric order: %d < %d", tests[i-1], tests[i])
	}

	for _, key := range tests {
		got, ok := DecodeKey(EncodeKey(key))
		assert.True(t, ok)
		assert.Equal(t, key, got)
	}

	_, ok := DecodeKey([]byte{1, 2, 3})
	assert.False(t, ok)
}
