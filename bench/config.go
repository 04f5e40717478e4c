package bench

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// key 来源
const (
	KeySourceTrace     = "trace"
	KeySourceSynthetic = "synthetic"
)

// 环境变量
const (
	EnvConfig    = "FILTERBENCH_CONFIG"
	EnvKeyPath   = "FILTERBENCH_KEY_PATH"
	EnvDiskStat  = "FILTERBENCH_DISK_STAT"
	EnvMeminfo   = "FILTERBENCH_MEMINFO"
	EnvResultsDB = "FILTERBENCH_RESULTS_DB"
)

type Config struct {
	Workload  WorkloadConfig `yaml:"workload"`
	Store     StoreConfig    `yaml:"store"`
	Stats     StatsConfig    `yaml:"stats"`
	ResultsDB string         `yaml:"results_db"` // 为空时不保存结果
}

type WorkloadConfig struct {
	KeySource    string `yaml:"key_source"`    // trace | synthetic
	KeyPath      string `yaml:"key_path"`      // trace 文件路径
	KeyCount     int    `yaml:"key_count"`     // 建库时写入的 key 数量
	KeyRange     uint64 `yaml:"key_range"`     // synthetic 模式下 key 的取值范围
	QueryCount   int    `yaml:"query_count"`   // 每个查询阶段的 key 数量
	ValueSize    int    `yaml:"value_size"`    // value 大小，单位 byte
	ScanLength   int    `yaml:"scan_length"`   // 开区间查询的最大扫描长度
	RangeSize    uint64 `yaml:"range_size"`    // 闭区间查询的区间大小
	PointStride  int    `yaml:"point_stride"`  // 点查从 trace 中取 key 的间隔
	RangeStride  int    `yaml:"range_stride"`  // 范围查询从 trace 中取 key 的间隔
	WarmupStride int    `yaml:"warmup_stride"` // 预热的取 key 间隔，0 表示不预热
	Seed         uint64 `yaml:"seed"`
}

type StoreConfig struct {
	MemTable       string `yaml:"memtable"`         // skiplist | btree
	SSTSize        uint64 `yaml:"sst_size"`         // level0 sstable 大小
	BlockSize      int    `yaml:"block_size"`       // 数据块大小
	BlockCacheSize int    `yaml:"block_cache_size"` // block 缓存容量
	Compression    *bool  `yaml:"compression"`      // 默认开启
}

type StatsConfig struct {
	MeminfoPath  string `yaml:"meminfo_path"`
	DiskStatPath string `yaml:"disk_stat_path"`
}

func DefaultConfig() *Config {
	return &Config{
		Workload: WorkloadConfig{
			KeySource:   KeySourceTrace,
			KeyPath:     "poisson_timestamps.csv",
			KeyCount:    5000000,
			KeyRange:    10000000000000,
			QueryCount:  50000,
			ValueSize:   1000,
			ScanLength:  10,
			RangeSize:   69310,
			PointStride: 10,
			RangeStride: 100,
			Seed:        2017,
		},
		Store: StoreConfig{
			BlockCacheSize: 10 << 20,
		},
	}
}

// 读取 yaml 配置. path 为空时使用默认配置
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// 先加载 .env，再读取 FILTERBENCH_CONFIG 指向的配置文件，最后使用环境变量覆盖
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg, err := Load(os.Getenv(EnvConfig))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvKeyPath); v != "" {
		cfg.Workload.KeyPath = v
	}
	if v := os.Getenv(EnvDiskStat); v != "" {
		cfg.Stats.DiskStatPath = v
	}
	if v := os.Getenv(EnvMeminfo); v != "" {
		cfg.Stats.MeminfoPath = v
	}
	if v := os.Getenv(EnvResultsDB); v != "" {
		cfg.ResultsDB = v
	}
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	w := &cfg.Workload
	if w.KeySource == "" {
		w.KeySource = def.Workload.KeySource
	}
	if w.KeyPath == "" {
		w.KeyPath = def.Workload.KeyPath
	}
	if w.KeyCount <= 0 {
		w.KeyCount = def.Workload.KeyCount
	}
	if w.KeyRange == 0 {
		w.KeyRange = def.Workload.KeyRange
	}
	if w.QueryCount <= 0 {
		w.QueryCount = def.Workload.QueryCount
	}
	// value 至少需要 8 byte 才能做长度校验
	if w.ValueSize < 8 {
		w.ValueSize = def.Workload.ValueSize
	}
	if w.ScanLength <= 0 {
		w.ScanLength = def.Workload.ScanLength
	}
	if w.RangeSize == 0 {
		w.RangeSize = def.Workload.RangeSize
	}
	if w.PointStride <= 0 {
		w.PointStride = def.Workload.PointStride
	}
	if w.RangeStride <= 0 {
		w.RangeStride = def.Workload.RangeStride
	}
	if w.WarmupStride < 0 {
		w.WarmupStride = 0
	}
	if w.Seed == 0 {
		w.Seed = def.Workload.Seed
	}
	if cfg.Store.BlockCacheSize == 0 {
		cfg.Store.BlockCacheSize = def.Store.BlockCacheSize
	}
}
