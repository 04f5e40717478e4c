// Package report 将压测报告持久化到 sqlite，便于对比不同过滤器多次运行的结果
package report

import (
	"database/sql"
	"fmt"
	"time"

	// 注册 database/sql 的 sqlite 驱动
	_ "modernc.org/sqlite"

	"github.com/xiaoxuxiansheng/golsm-filterbench/bench"
	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/sysstats"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id            TEXT PRIMARY KEY,
	started_at        INTEGER NOT NULL,
	db_path           TEXT NOT NULL,
	filter_type       INTEGER NOT NULL,
	filter_name       TEXT NOT NULL,
	query             INTEGER NOT NULL,
	created           INTEGER NOT NULL,
	loaded_keys       INTEGER NOT NULL,
	warmup_ops        INTEGER,
	warmup_found      INTEGER,
	warmup_elapsed_ns INTEGER,
	warmup_mem_free   INTEGER NOT NULL,
	warmup_mem_avail  INTEGER NOT NULL,
	operations        INTEGER,
	found             INTEGER,
	not_found         INTEGER,
	checksum          INTEGER,
	elapsed_ns        INTEGER,
	throughput        REAL,
	cache_hits        INTEGER,
	cache_misses      INTEGER,
	mem_free          INTEGER NOT NULL,
	mem_avail         INTEGER NOT NULL,
	read_io           INTEGER NOT NULL,
	write_io          INTEGER NOT NULL
)`

const columns = `run_id, started_at, db_path, filter_type, filter_name, query, created, loaded_keys,
	warmup_ops, warmup_found, warmup_elapsed_ns, warmup_mem_free, warmup_mem_avail,
	operations, found, not_found, checksum, elapsed_ns, throughput, cache_hits, cache_misses,
	mem_free, mem_avail, read_io, write_io`

type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// 保存一次运行的报告. run_id 相同时覆盖
func (s *SQLiteSink) Save(r *bench.Report) error {
	var warmupOps, warmupFound, warmupElapsed sql.NullInt64
	if w := r.Warmup; w != nil {
		warmupOps = sql.NullInt64{Int64: int64(w.Operations), Valid: true}
		warmupFound = sql.NullInt64{Int64: int64(w.Found), Valid: true}
		warmupElapsed = sql.NullInt64{Int64: int64(w.Elapsed), Valid: true}
	}

	var ops, found, notFound, checksum, elapsed, cacheHits, cacheMisses sql.NullInt64
	var throughput sql.NullFloat64
	if res := r.Result; res != nil {
		ops = sql.NullInt64{Int64: int64(res.Operations), Valid: true}
		found = sql.NullInt64{Int64: int64(res.Found), Valid: true}
		notFound = sql.NullInt64{Int64: int64(res.NotFound), Valid: true}
		// sqlite 没有无符号整数，按位存储
		checksum = sql.NullInt64{Int64: int64(res.Checksum), Valid: true}
		elapsed = sql.NullInt64{Int64: int64(res.Elapsed), Valid: true}
		throughput = sql.NullFloat64{Float64: res.Throughput, Valid: true}
		cacheHits = sql.NullInt64{Int64: int64(res.CacheHits), Valid: true}
		cacheMisses = sql.NullInt64{Int64: int64(res.CacheMisses), Valid: true}
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UnixNano(), r.DBPath, int(r.FilterType), r.FilterName, int(r.Query), r.Created, r.LoadedKeys,
		warmupOps, warmupFound, warmupElapsed, r.WarmupMem.MemFree, r.WarmupMem.MemAvailable,
		ops, found, notFound, checksum, elapsed, throughput, cacheHits, cacheMisses,
		r.Stats.MemFree, r.Stats.MemAvailable, r.Stats.ReadIO, r.Stats.WriteIO,
	)
	return err
}

// 按开始时间升序返回全部报告
func (s *SQLiteSink) List() ([]*bench.Report, error) {
	rows, err := s.db.Query(`SELECT ` + columns + ` FROM runs ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*bench.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(rows *sql.Rows) (*bench.Report, error) {
	var (
		r                                       bench.Report
		startedAt                               int64
		filterType, query                       int
		warmupOps, warmupFound, warmupElapsed   sql.NullInt64
		ops, found, notFound, checksum, elapsed sql.NullInt64
		cacheHits, cacheMisses                  sql.NullInt64
		throughput                              sql.NullFloat64
		warmupMem, stats                        sysstats.Delta
	)
	err := rows.Scan(&r.RunID, &startedAt, &r.DBPath, &filterType, &r.FilterName, &query, &r.Created, &r.LoadedKeys,
		&warmupOps, &warmupFound, &warmupElapsed, &warmupMem.MemFree, &warmupMem.MemAvailable,
		&ops, &found, &notFound, &checksum, &elapsed, &throughput, &cacheHits, &cacheMisses,
		&stats.MemFree, &stats.MemAvailable, &stats.ReadIO, &stats.WriteIO,
	)
	if err != nil {
		return nil, err
	}

	r.StartedAt = time.Unix(0, startedAt)
	r.FilterType = filter.Type(filterType)
	r.Query = bench.QueryType(query)
	r.WarmupMem, r.Stats = warmupMem, stats
	if warmupOps.Valid {
		r.Warmup = &bench.PhaseResult{
			Phase:      bench.PhaseWarmup,
			Operations: int(warmupOps.Int64),
			Found:      int(warmupFound.Int64),
			NotFound:   int(warmupOps.Int64 - warmupFound.Int64),
			Elapsed:    time.Duration(warmupElapsed.Int64),
		}
	}
	if ops.Valid {
		r.Result = &bench.PhaseResult{
			Phase:       queryPhase(r.Query),
			Operations:  int(ops.Int64),
			Found:       int(found.Int64),
			NotFound:    int(notFound.Int64),
			Checksum:    uint64(checksum.Int64),
			Elapsed:     time.Duration(elapsed.Int64),
			Throughput:  throughput.Float64,
			CacheHits:   uint64(cacheHits.Int64),
			CacheMisses: uint64(cacheMisses.Int64),
		}
	}
	return &r, nil
}

func queryPhase(q bench.QueryType) bench.Phase {
	switch q {
	case bench.QueryPoint:
		return bench.PhasePoint
	case bench.QueryOpenRange:
		return bench.PhaseOpenRange
	case bench.QueryClosedRange:
		return bench.PhaseClosedRange
	}
	return bench.PhaseNone
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
