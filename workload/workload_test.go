package workload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Synthetic(t *testing.T) {
	gen := Synthetic{Seed: DefaultSeed, KeyRange: 1000, Count: 500}
	keys, err := gen.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 500)
	for _, key := range keys {
		assert.Less(t, key, uint64(1000))
	}

	// 相同参数得到相同的序列
	again, err := gen.Keys()
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	other, err := Synthetic{Seed: DefaultSeed + 1, KeyRange: 1000, Count: 500}.Keys()
	require.NoError(t, err)
	assert.NotEqual(t, keys, other)

	_, err = Synthetic{Seed: DefaultSeed, Count: 1}.Keys()
	assert.Error(t, err)
}

func Test_TraceReplay(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		limit  int
		stride int
		expect []uint64
	}{
		{
			name:   "all",
			body:   "1\n2\n3\n4\n5\n",
			expect: []uint64{1, 2, 3, 4, 5},
		},
		{
			name:   "stride",
			body:   "1\n2\n3\n4\n5\n",
			stride: 2,
			expect: []uint64{1, 3, 5},
		},
		{
			name:   "limit and stride",
			body:   "10 20 30\n40 50 60\n70\n",
			limit:  5,
			stride: 2,
			expect: []uint64{10, 30, 50},
		},
		{
			name:   "limit beyond file",
			body:   "7\n8\n",
			limit:  100,
			stride: 10,
			expect: []uint64{7},
		},
		{
			name: "empty",
			body: "\n\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			keys, err := TraceReplay{Limit: test.limit, Stride: test.stride}.read(strings.NewReader(test.body))
			require.NoError(t, err)
			assert.Equal(t, test.expect, keys)
		})
	}
}

func Test_TraceReplay_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trace.csv")
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(strings.Repeat("9", 1+i%5))
		sb.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(file, []byte(sb.String()), 0644))

	gen := TraceReplay{Path: file, Limit: 995, Stride: 10}
	keys, err := gen.Keys()
	require.NoError(t, err)
	// ceil(995 / 10)
	assert.Len(t, keys, 100)

	again, err := gen.Keys()
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	_, err = TraceReplay{Path: filepath.Join(t.TempDir(), "missing.csv")}.Keys()
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func Test_TraceReplay_BadToken(t *testing.T) {
	_, err := TraceReplay{}.read(strings.NewReader("1\n2\nabc\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadTrace))
	assert.Contains(t, err.Error(), "line 3")

	_, err = TraceReplay{}.read(strings.NewReader("-5\n"))
	assert.True(t, errors.Is(err, ErrBadTrace))
}

func Test_ValueGenerator(t *testing.T) {
	buf := make([]byte, 1000)
	for i := range buf {
		buf[i] = 0xff
	}

	gen := NewValueGenerator(DefaultSeed)
	gen.Fill(buf)
	for _, b := range buf[:500] {
		require.Equal(t, byte(0), b)
	}
	var nonZero int
	for _, b := range buf[500:] {
		if b != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, 400)

	// 相同种子生成相同的 value
	other := make([]byte, 1000)
	NewValueGenerator(DefaultSeed).Fill(other)
	assert.Equal(t, buf, other)

	// 长度不是 8 的整数倍时截断
	odd := make([]byte, 13)
	NewValueGenerator(DefaultSeed).Fill(odd)
	assert.Len(t, odd, 13)
}
