// Package bench 在 golsm 之上驱动过滤器压测：按需建库，然后执行预热与一个计时的查询阶段，
// 统计命中数、耗时、吞吐量以及前后的内存与磁盘 I/O 变化
package bench

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	golsm "github.com/xiaoxuxiansheng/golsm-filterbench"
	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/sysstats"
	"github.com/xiaoxuxiansheng/golsm-filterbench/util"
	"github.com/xiaoxuxiansheng/golsm-filterbench/workload"
)

var (
	ErrInvalidState   = errors.New("invalid harness state")
	ErrMalformedValue = errors.New("value shorter than 8 bytes")
)

// 每执行 ctxCheckInterval 次操作检查一次 ctx
const ctxCheckInterval = 1024

type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateReady
	StateRunning
	StateReported
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateReported:
		return "reported"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Phase int

const (
	PhaseNone Phase = iota
	PhaseWarmup
	PhasePoint
	PhaseOpenRange
	PhaseClosedRange
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhasePoint:
		return "point"
	case PhaseOpenRange:
		return "open_range"
	case PhaseClosedRange:
		return "closed_range"
	}
	return "none"
}

// 命令行参数
type RunArgs struct {
	DBPath string
	Filter filter.Type
	Query  QueryType
}

type HarnessOption func(*Harness)

// 替换存储的打开方式
func WithOpener(opener Opener) HarnessOption {
	return func(h *Harness) {
		h.opener = opener
	}
}

type Harness struct {
	conf   *Config
	args   RunArgs
	stats  sysstats.Reader
	logger *log.Logger
	opener Opener

	filter  filter.Filter
	store   Store
	state   State
	phase   Phase
	created bool
	loaded  int
}

func NewHarness(args RunArgs, conf *Config, stats sysstats.Reader, logger *log.Logger, opts ...HarnessOption) *Harness {
	h := Harness{
		conf:   conf,
		args:   args,
		stats:  stats,
		logger: logger,
	}
	h.opener = func(dir string, f filter.Filter, createIfMissing bool) (Store, error) {
		return OpenLSM(dir, f, createIfMissing, conf.Store, logger)
	}
	for _, opt := range opts {
		opt(&h)
	}
	return &h
}

func (h *Harness) State() State {
	return h.state
}

// 正在执行的阶段，只在 StateRunning 下有意义
func (h *Harness) Phase() Phase {
	return h.phase
}

// 打开存储. 存储不存在时新建并写入 KeyCount 个 key
func (h *Harness) Open(ctx context.Context) error {
	if h.state != StateUninitialized {
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, h.state)
	}

	f, err := filter.NewFilter(h.args.Filter)
	if err != nil {
		return err
	}
	h.filter = f
	h.logger.Info().Str("filter", f.Name()).Msgf("Using %s", f.Name())

	store, err := h.opener(h.args.DBPath, f, false)
	if err == nil {
		h.store = store
		h.state = StateLoaded
	} else if errors.Is(err, golsm.ErrStoreNotExist) {
		h.logger.Info().Str("path", h.args.DBPath).Msg("creating new store")
		if h.store, err = h.opener(h.args.DBPath, f, true); err != nil {
			return fmt.Errorf("create store: %w", err)
		}
		if err = h.bulkLoad(ctx); err != nil {
			return err
		}
		h.created = true
		h.state = StateLoaded
	} else {
		return fmt.Errorf("open store: %w", err)
	}

	h.state = StateReady
	return nil
}

// 建库. key 按大端序编码，value 由 ValueGenerator 生成
func (h *Harness) bulkLoad(ctx context.Context) error {
	w := h.conf.Workload
	h.logger.Info().Str("source", w.KeySource).Int("count", w.KeyCount).Msg("loading keys")
	keys, err := h.keySource(w.KeyCount, 1, w.Seed).Keys()
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	if len(keys) < w.KeyCount {
		h.logger.Warn().Int("expect", w.KeyCount).Int("got", len(keys)).Msg("key source exhausted")
	}

	h.logger.Info().Int("count", len(keys)).Msg("inserting keys")
	step := max(len(keys)/100, 1)
	values := workload.NewValueGenerator(w.Seed)
	value := make([]byte, w.ValueSize)
	for i, key := range keys {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		values.Fill(value)
		if err := h.store.Put(util.EncodeKey(key), value); err != nil {
			return fmt.Errorf("put key %d: %w", key, err)
		}
		h.loaded++

		if i%step == 0 {
			h.logger.Info().Int("inserted", i).Int("total", len(keys)).Float64("percent", float64(i)/float64(len(keys))*100).Msg("bulk load progress")
		}
	}
	return nil
}

// 按配置构造 key 来源. trace 模式下最多读取 limit 个 key 并按 stride 间隔取样，
// synthetic 模式下生成 ceil(limit / stride) 个随机 key
func (h *Harness) keySource(limit, stride int, seed uint64) workload.Generator {
	w := h.conf.Workload
	if w.KeySource == KeySourceSynthetic {
		return workload.Synthetic{
			Seed:     seed,
			KeyRange: w.KeyRange,
			Count:    (limit + stride - 1) / stride,
		}
	}
	return workload.TraceReplay{
		Path:   w.KeyPath,
		Limit:  limit,
		Stride: stride,
	}
}

// 各查询阶段使用的 key
func (h *Harness) queryKeys(q QueryType) ([]uint64, error) {
	w := h.conf.Workload
	switch q {
	case QueryPoint:
		return h.keySource(w.QueryCount*w.PointStride, w.PointStride, w.Seed).Keys()
	case QueryOpenRange, QueryClosedRange:
		return h.keySource(w.QueryCount*w.RangeStride, w.RangeStride, w.Seed+2).Keys()
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownQuery, int(q))
}

// 进入 running 状态，返回进入前的状态
func (h *Harness) enter(phase Phase) (State, error) {
	if h.state != StateReady && h.state != StateReported {
		return h.state, fmt.Errorf("%w: %s in state %s", ErrInvalidState, phase, h.state)
	}
	prev := h.state
	h.state, h.phase = StateRunning, phase
	return prev, nil
}

func (h *Harness) leave(state State) {
	h.state, h.phase = state, PhaseNone
}

// 预热. 只做点查，不统计结果
func (h *Harness) Warmup(ctx context.Context, keys []uint64) (PhaseResult, error) {
	prev, err := h.enter(PhaseWarmup)
	if err != nil {
		return PhaseResult{}, err
	}
	defer h.leave(prev)

	h.logger.Info().Int("keys", len(keys)).Msg("warming up")
	return h.pointLoop(ctx, PhaseWarmup, keys)
}

// 点查，每个 key 一次 Get
func (h *Harness) PointQuery(ctx context.Context, keys []uint64) (PhaseResult, error) {
	prev, err := h.enter(PhasePoint)
	if err != nil {
		return PhaseResult{}, err
	}

	result, err := h.pointLoop(ctx, PhasePoint, keys)
	if err != nil {
		h.leave(prev)
		return result, err
	}
	h.leave(StateReported)
	return result, nil
}

func (h *Harness) pointLoop(ctx context.Context, phase Phase, keys []uint64) (PhaseResult, error) {
	var found, notFound int
	var checksum uint64

	hits, misses := h.store.CacheStats()
	start := time.Now()
	for i, key := range keys {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return PhaseResult{}, err
			}
		}

		value, ok, err := h.store.Get(util.EncodeKey(key))
		if err != nil {
			return PhaseResult{}, fmt.Errorf("get key %d: %w", key, err)
		}
		if !ok {
			notFound++
			continue
		}
		found++
		if len(value) < 8 {
			return PhaseResult{}, fmt.Errorf("%w: key %d", ErrMalformedValue, key)
		}
		checksum += binary.LittleEndian.Uint64(value)
	}
	elapsed := time.Since(start)

	result := newPhaseResult(phase, len(keys), elapsed)
	result.Found, result.NotFound, result.Checksum = found, notFound, checksum
	h.cacheDelta(&result, hits, misses)
	return result, nil
}

// 开区间查询. 整个阶段共用一个迭代器，每个 key 定位后读取第一条数据
func (h *Harness) OpenRangeQuery(ctx context.Context, keys []uint64, scanLength int) (PhaseResult, error) {
	prev, err := h.enter(PhaseOpenRange)
	if err != nil {
		return PhaseResult{}, err
	}

	result, err := h.openRangeLoop(ctx, keys, scanLength)
	if err != nil {
		h.leave(prev)
		return result, err
	}
	h.leave(StateReported)
	return result, nil
}

func (h *Harness) openRangeLoop(ctx context.Context, keys []uint64, scanLength int) (PhaseResult, error) {
	it := h.store.NewIterator(nil)
	defer it.Close()

	var found int
	var checksum uint64
	hits, misses := h.store.CacheStats()
	start := time.Now()
	for i, key := range keys {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return PhaseResult{}, err
			}
		}

		// 最多扫描 scanLength 条，读到第一条数据即停止
		it.Seek(util.EncodeKey(key))
		if it.Valid() && scanLength > 0 {
			hit, sum, err := inspectEntry(it)
			if err != nil {
				return PhaseResult{}, err
			}
			if hit {
				found++
			}
			checksum += sum
		}
		if err := it.Err(); err != nil {
			return PhaseResult{}, err
		}
	}
	elapsed := time.Since(start)

	result := newPhaseResult(PhaseOpenRange, len(keys), elapsed)
	result.Found, result.NotFound, result.Checksum = found, len(keys)-found, checksum
	h.cacheDelta(&result, hits, misses)
	return result, nil
}

// 闭区间查询. 每个 key 新建一个以 key + rangeSize 为上界的迭代器，读到第一条数据后即停止
func (h *Harness) ClosedRangeQuery(ctx context.Context, keys []uint64, rangeSize uint64) (PhaseResult, error) {
	prev, err := h.enter(PhaseClosedRange)
	if err != nil {
		return PhaseResult{}, err
	}

	result, err := h.closedRangeLoop(ctx, keys, rangeSize)
	if err != nil {
		h.leave(prev)
		return result, err
	}
	h.leave(StateReported)
	return result, nil
}

func (h *Harness) closedRangeLoop(ctx context.Context, keys []uint64, rangeSize uint64) (PhaseResult, error) {
	var found int
	var checksum uint64
	hits, misses := h.store.CacheStats()
	start := time.Now()
	for i, key := range keys {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return PhaseResult{}, err
			}
		}

		hit, sum, err := h.closedRange(key, rangeSize)
		if err != nil {
			return PhaseResult{}, err
		}
		if hit {
			found++
		}
		checksum += sum
	}
	elapsed := time.Since(start)

	result := newPhaseResult(PhaseClosedRange, len(keys), elapsed)
	result.Found, result.NotFound, result.Checksum = found, len(keys)-found, checksum
	h.cacheDelta(&result, hits, misses)
	return result, nil
}

func (h *Harness) closedRange(key, rangeSize uint64) (bool, uint64, error) {
	// key + rangeSize 溢出时不设上界
	var upper []byte
	if key <= math.MaxUint64-rangeSize {
		upper = util.EncodeKey(key + rangeSize)
	}

	it := h.store.NewIterator(upper)
	defer it.Close()

	var (
		hit bool
		sum uint64
		err error
	)
	it.Seek(util.EncodeKey(key))
	if it.Valid() && (upper == nil || bytes.Compare(it.Key(), upper) < 0) {
		if hit, sum, err = inspectEntry(it); err != nil {
			return false, 0, err
		}
	}
	return hit, sum, it.Err()
}

// 记录阶段内 block 缓存命中与未命中的增量
func (h *Harness) cacheDelta(r *PhaseResult, hits, misses uint64) {
	afterHits, afterMisses := h.store.CacheStats()
	r.CacheHits, r.CacheMisses = afterHits-hits, afterMisses-misses
}

// 检查迭代器当前位置的数据. key 非 0 时计为命中
func inspectEntry(it Iterator) (bool, uint64, error) {
	value := it.Value()
	if len(value) < 8 {
		return false, 0, fmt.Errorf("%w: key %x", ErrMalformedValue, it.Key())
	}
	key, _ := util.DecodeKey(it.Key())
	return key > 0, binary.LittleEndian.Uint64(value), nil
}

// 关闭存储. 会等待后台 compact 完成
func (h *Harness) Close() error {
	if h.state == StateClosed || h.state == StateRunning {
		return fmt.Errorf("%w: close in state %s", ErrInvalidState, h.state)
	}
	h.state = StateClosed
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

// 完整执行一次压测：打开存储，预热，记录前后的系统统计并执行一个计时的查询阶段
func (h *Harness) Run(ctx context.Context, q QueryType) (*Report, error) {
	if h.state != StateUninitialized {
		return nil, fmt.Errorf("%w: run in state %s", ErrInvalidState, h.state)
	}
	if _, err := ParseQueryType(int(q)); err != nil {
		return nil, err
	}

	report := Report{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now(),
		DBPath:     h.args.DBPath,
		FilterType: h.args.Filter,
		Query:      q,
	}
	if err := h.Open(ctx); err != nil {
		return nil, err
	}
	report.FilterName = h.filter.Name()
	report.Created, report.LoadedKeys = h.created, h.loaded
	if q == QueryInit {
		return &report, nil
	}

	w := h.conf.Workload
	before := sysstats.Take(h.stats, h.logger)
	if w.WarmupStride > 0 {
		keys, err := h.keySource(w.KeyCount, w.WarmupStride, w.Seed).Keys()
		if err != nil {
			return nil, fmt.Errorf("warmup keys: %w", err)
		}
		result, err := h.Warmup(ctx, keys)
		if err != nil {
			return nil, err
		}
		report.Warmup = &result
		h.logResult(result)
	}
	report.WarmupMem = before.Delta(sysstats.Take(h.stats, h.logger))
	h.logger.Info().Int64("mem_free_diff", report.WarmupMem.MemFree).Int64("mem_available_diff", report.WarmupMem.MemAvailable).Msg("warmup memory")

	keys, err := h.queryKeys(q)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	h.logFirstKeys(keys)

	var result PhaseResult
	before = sysstats.Take(h.stats, h.logger)
	switch q {
	case QueryPoint:
		result, err = h.PointQuery(ctx, keys)
	case QueryOpenRange:
		result, err = h.OpenRangeQuery(ctx, keys, w.ScanLength)
	case QueryClosedRange:
		result, err = h.ClosedRangeQuery(ctx, keys, w.RangeSize)
	}
	if err != nil {
		return nil, err
	}
	report.Stats = before.Delta(sysstats.Take(h.stats, h.logger))
	report.Result = &result

	h.logResult(result)
	h.logger.Info().Int64("read_io", report.Stats.ReadIO).Int64("write_io", report.Stats.WriteIO).
		Int64("mem_free_diff", report.Stats.MemFree).Int64("mem_available_diff", report.Stats.MemAvailable).Msg("system stats")
	return &report, nil
}

func (h *Harness) logFirstKeys(keys []uint64) {
	n := min(len(keys), 10)
	h.logger.Debug().Int("total", len(keys)).Msgf("first %d keys: %v", n, keys[:n])
}

func (h *Harness) logResult(r PhaseResult) {
	h.logger.Info().Str("phase", r.Phase.String()).Int("operations", r.Operations).Int("found", r.Found).Int("not_found", r.NotFound).
		Dur("elapsed", r.Elapsed).Float64("throughput", r.Throughput).
		Uint64("cache_hits", r.CacheHits).Uint64("cache_misses", r.CacheMisses).Msg("phase finished")
}
