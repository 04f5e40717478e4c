package sysstats

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfo = `MemTotal:       16318404 kB
MemFree:         1234567 kB
MemAvailable:    7654321 kB
Buffers:          123456 kB
`

const diskStat = `   12345     6789  1000000   4321    5432     100  200000   8765    0  9876  13086    0    0    0    0
`

func quietLogger() *log.Logger {
	return &log.Logger{Level: log.WarnLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

func writeFixtures(t *testing.T) *ProcReader {
	t.Helper()
	dir := t.TempDir()
	memPath := filepath.Join(dir, "meminfo")
	statPath := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(memPath, []byte(meminfo), 0644))
	require.NoError(t, os.WriteFile(statPath, []byte(diskStat), 0644))
	return NewProcReader(memPath, statPath)
}

func Test_ProcReader(t *testing.T) {
	r := writeFixtures(t)

	tests := []struct {
		name   string
		read   func() (uint64, error)
		expect uint64
	}{
		{name: "mem_free", read: r.MemFree, expect: 1234567},
		{name: "mem_available", read: r.MemAvailable, expect: 7654321},
		{name: "read_io", read: r.ReadIOCount, expect: 12345},
		{name: "write_io", read: r.WriteIOCount, expect: 5432},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			v, err := test.read()
			require.NoError(t, err)
			assert.Equal(t, test.expect, v)
		})
	}
}

func Test_ProcReader_Defaults(t *testing.T) {
	r := NewProcReader("", "")
	assert.Equal(t, DefaultMeminfoPath, r.MeminfoPath)
	assert.Equal(t, DefaultDiskStatPath, r.DiskStatPath)
}

func Test_Take_MissingFile(t *testing.T) {
	dir := t.TempDir()
	r := NewProcReader(filepath.Join(dir, "missing"), filepath.Join(dir, "missing"))
	_, err := r.MemFree()
	assert.Error(t, err)

	assert.Equal(t, Snapshot{}, Take(r, quietLogger()))
}

func Test_Take_ShortFile(t *testing.T) {
	dir := t.TempDir()
	statPath := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(statPath, []byte("1 2 3"), 0644))
	r := writeFixtures(t)
	r.DiskStatPath = statPath

	snapshot := Take(r, quietLogger())
	assert.Equal(t, uint64(1), snapshot.ReadIO)
	assert.Equal(t, uint64(0), snapshot.WriteIO)
	assert.Equal(t, uint64(1234567), snapshot.MemFree)
}

func Test_Snapshot_Delta(t *testing.T) {
	before := Take(Static{Free: 1000, Available: 2000, Reads: 10, Writes: 20}, quietLogger())
	after := Take(Static{Free: 900, Available: 2100, Reads: 15, Writes: 20}, quietLogger())

	assert.Equal(t, Delta{MemFree: 100, MemAvailable: -100, ReadIO: 5, WriteIO: 0}, before.Delta(after))
}
