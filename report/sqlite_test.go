package report

import (
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoxuxiansheng/golsm-filterbench/bench"
	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/sysstats"
)

func Test_SQLiteSink(t *testing.T) {
	file := path.Join(t.TempDir(), "results.db")
	sink, err := NewSQLiteSink(file)
	require.NoError(t, err)

	initRun := bench.Report{
		RunID:      "run-1",
		StartedAt:  time.Unix(100, 5),
		DBPath:     "/data/db",
		FilterType: filter.TypeBloom,
		FilterName: "golsm.BuiltinBloomFilter",
		Query:      bench.QueryInit,
		Created:    true,
		LoadedKeys: 1000,
	}
	pointRun := bench.Report{
		RunID:      "run-2",
		StartedAt:  time.Unix(200, 0),
		DBPath:     "/data/db",
		FilterType: filter.TypeSuRFReal,
		FilterName: "golsm.BuiltinSuRF",
		Query:      bench.QueryPoint,
		Warmup: &bench.PhaseResult{
			Phase:      bench.PhaseWarmup,
			Operations: 10,
			Found:      9,
			NotFound:   1,
			Elapsed:    time.Millisecond,
		},
		WarmupMem: sysstats.Delta{MemFree: 4, MemAvailable: -2},
		Result: &bench.PhaseResult{
			Phase:       bench.PhasePoint,
			Operations:  100,
			Found:       60,
			NotFound:    40,
			Checksum:    ^uint64(0),
			Elapsed:     2 * time.Second,
			Throughput:  50,
			CacheHits:   30,
			CacheMisses: 12,
		},
		Stats: sysstats.Delta{MemFree: 1, MemAvailable: 2, ReadIO: 3, WriteIO: 4},
	}

	require.NoError(t, sink.Save(&pointRun))
	require.NoError(t, sink.Save(&initRun))
	require.NoError(t, sink.Close())

	// 重新打开后数据仍在
	sink, err = NewSQLiteSink(file)
	require.NoError(t, err)
	defer sink.Close()

	reports, err := sink.List()
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, &initRun, reports[0])
	assert.Equal(t, &pointRun, reports[1])

	// run_id 相同时覆盖
	pointRun.LoadedKeys = 7
	require.NoError(t, sink.Save(&pointRun))
	reports, err = sink.List()
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 7, reports[1].LoadedKeys)
}
