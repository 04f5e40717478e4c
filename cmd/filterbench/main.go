package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/phuslu/log"
	"go.uber.org/dig"

	"github.com/xiaoxuxiansheng/golsm-filterbench/bench"
	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/report"
	"github.com/xiaoxuxiansheng/golsm-filterbench/sysstats"
)

const envLogLevel = "FILTERBENCH_LOG_LEVEL"

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <db_path> <filter_type> <query_type>\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "  filter_type: 0=bloom 1=surf 2=surf-hash 3=surf-real")
	fmt.Fprintln(os.Stderr, "  query_type:  0=init 1=point 2=open_range 3=closed_range")
}

func main() {
	container := dig.New()
	constructors := []interface{}{
		bench.LoadConfig,
		newLogger,
		newStatsReader,
		parseArgs,
		newHarness,
		newSink,
	}
	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(-1)
		}
	}

	err := container.Invoke(run)
	if errors.Is(dig.RootCause(err), errUsage) {
		usage()
		os.Exit(-1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func run(h *bench.Harness, args bench.RunArgs, sink *report.SQLiteSink, logger *log.Logger) {
	r, err := h.Run(context.Background(), args.Query)
	if err != nil {
		logger.Fatal().Err(err).Str("db", args.DBPath).Msg("benchmark failed")
	}
	if sink != nil {
		if err := sink.Save(r); err != nil {
			logger.Error().Err(err).Msg("save report failed")
		}
		_ = sink.Close()
	}
	if err := h.Close(); err != nil {
		logger.Fatal().Err(err).Msg("close store failed")
	}
	logger.Info().Str("run_id", r.RunID).Str("query", r.Query.String()).Msg("done")
}

func parseArgs() (bench.RunArgs, error) {
	if len(os.Args) < 4 {
		return bench.RunArgs{}, errUsage
	}

	rawFilter, err := strconv.Atoi(os.Args[2])
	if err != nil {
		return bench.RunArgs{}, fmt.Errorf("%w: filter_type %q", errUsage, os.Args[2])
	}
	ft, err := filter.ParseType(rawFilter)
	if err != nil {
		return bench.RunArgs{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	rawQuery, err := strconv.Atoi(os.Args[3])
	if err != nil {
		return bench.RunArgs{}, fmt.Errorf("%w: query_type %q", errUsage, os.Args[3])
	}
	q, err := bench.ParseQueryType(rawQuery)
	if err != nil {
		return bench.RunArgs{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	return bench.RunArgs{DBPath: os.Args[1], Filter: ft, Query: q}, nil
}

func newLogger() *log.Logger {
	level := log.InfoLevel
	if v := os.Getenv(envLogLevel); v != "" {
		level = log.ParseLevel(v)
	}
	return &log.Logger{
		Level:  level,
		Caller: 1,
		Writer: &log.ConsoleWriter{ColorOutput: true},
	}
}

func newStatsReader(conf *bench.Config) sysstats.Reader {
	return sysstats.NewProcReader(conf.Stats.MeminfoPath, conf.Stats.DiskStatPath)
}

func newHarness(args bench.RunArgs, conf *bench.Config, stats sysstats.Reader, logger *log.Logger) *bench.Harness {
	return bench.NewHarness(args, conf, stats, logger)
}

// 未配置结果库时返回 nil
func newSink(conf *bench.Config) (*report.SQLiteSink, error) {
	if conf.ResultsDB == "" {
		return nil, nil
	}
	return report.NewSQLiteSink(conf.ResultsDB)
}
