package bench

import (
	"errors"
	"fmt"
	"time"

	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/sysstats"
)

var ErrUnknownQuery = errors.New("unknown query type")

// 查询类型，与命令行参数一一对应
type QueryType int

const (
	QueryInit        QueryType = 0 // 只建库，不查询
	QueryPoint       QueryType = 1
	QueryOpenRange   QueryType = 2
	QueryClosedRange QueryType = 3
)

func (q QueryType) String() string {
	switch q {
	case QueryInit:
		return "init"
	case QueryPoint:
		return "point"
	case QueryOpenRange:
		return "open_range"
	case QueryClosedRange:
		return "closed_range"
	}
	return fmt.Sprintf("query(%d)", int(q))
}

func ParseQueryType(raw int) (QueryType, error) {
	if raw < int(QueryInit) || raw > int(QueryClosedRange) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownQuery, raw)
	}
	return QueryType(raw), nil
}

// 一个阶段的统计结果. Throughput = Operations / Elapsed 秒数，没有操作时为 0
type PhaseResult struct {
	Phase      Phase
	Operations int
	Found      int
	NotFound   int
	Checksum   uint64 // 命中 value 前 8 byte 的累加，只用于防止读取被优化掉
	Elapsed    time.Duration
	Throughput float64

	// 阶段内 block 缓存的命中与未命中次数
	CacheHits   uint64
	CacheMisses uint64
}

func newPhaseResult(phase Phase, ops int, elapsed time.Duration) PhaseResult {
	r := PhaseResult{
		Phase:      phase,
		Operations: ops,
		Elapsed:    elapsed,
	}
	if ops == 0 {
		return r
	}
	// 时钟精度不足时 elapsed 可能为 0，按 1ns 计
	r.Throughput = float64(ops) / max(elapsed, time.Nanosecond).Seconds()
	return r
}

// 一次完整压测的报告
type Report struct {
	RunID      string
	StartedAt  time.Time
	DBPath     string
	FilterType filter.Type
	FilterName string
	Query      QueryType
	Created    bool // 本次运行新建并写入了存储
	LoadedKeys int

	Warmup    *PhaseResult
	WarmupMem sysstats.Delta // 预热前后的内存变化
	Result    *PhaseResult
	Stats     sysstats.Delta // 查询阶段前后的内存与 I/O 变化
}
