package golsm

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/phuslu/log"

	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
)

// 目录不存在且未开启 CreateIfMissing 时，NewTree 返回该错误
var ErrStoreNotExist = fmt.Errorf("store does not exist: %w", fs.ErrNotExist)

const walDirName = "walfile"

// lsm tree 配置项聚合
type Config struct {
	Dir      string // sst 文件存放的目录
	MaxLevel int    // lsm tree 总共多少层

	// sst 相关
	SSTSize          uint64 // 每个 sst table 大小，默认 1M
	SSTNumPerLevel   int    // 每层多少个 sstable，默认 10 个
	SSTDataBlockSize int    // sst table 中 block 大小 默认 16KB
	SSTFooterSize    int    // sst table 中 footer 部分大小. 固定为 48B

	Filter              filter.Filter                // 过滤器. 默认使用布隆过滤器
	MemTableConstructor memtable.MemTableConstructor // memtable 构造器，默认为跳表

	Compression     bool        // 数据块是否使用 snappy 压缩，默认开启
	BlockCacheSize  int         // block 缓存容量，单位 byte，默认 10MB. <= 0 时不缓存
	CreateIfMissing bool        // 目录不存在时是否创建
	Logger          *log.Logger // 溢写、compact 流程的日志. 默认不输出
}

// 配置文件构造器.
func NewConfig(dir string, opts ...ConfigOption) (*Config, error) {
	c := Config{
		Dir:            dir, // sstable 文件所在的目录路径
		SSTFooterSize:  48,  // 对应 6 个 uint64，共 48 byte
		Compression:    true,
		BlockCacheSize: 10 << 20,
	}

	// 加载配置项
	for _, opt := range opts {
		opt(&c)
	}

	// 兜底修复
	repaire(&c)

	return &c, c.check()
}

// 校验配置是否合法
func (c *Config) check() error {
	if c.Dir == "" {
		return errors.New("store dir is empty")
	}
	return nil
}

// 确保 sst 文件目录与 wal 文件目录存在. 以 wal 目录是否存在来判定 store 是否已经创建
func (c *Config) prepareDir() error {
	walDir := path.Join(c.Dir, walDirName)
	_, err := os.Stat(walDir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if !c.CreateIfMissing {
		return fmt.Errorf("%w: %s", ErrStoreNotExist, c.Dir)
	}
	return os.MkdirAll(walDir, os.ModePerm)
}

// 配置项
type ConfigOption func(*Config)

// lsm tree 最大层数. 默认为 7 层.
func WithMaxLevel(maxLevel int) ConfigOption {
	return func(c *Config) {
		c.MaxLevel = maxLevel
	}
}

// level0层每个 sstable 文件的大小，单位 byte. 默认为 1 MB.
// 且每加深一层，sstable 文件大小限制阈值放大 10 倍.
func WithSSTSize(sstSize uint64) ConfigOption {
	return func(c *Config) {
		c.SSTSize = sstSize
	}
}

// sstable 中每个 block 块的大小限制. 默认为 16KB.
func WithSSTDataBlockSize(sstDataBlockSize int) ConfigOption {
	return func(c *Config) {
		c.SSTDataBlockSize = sstDataBlockSize
	}
}

// 每个 level 层预期最多存放的 sstable 文件个数. 默认为 10 个.
func WithSSTNumPerLevel(sstNumPerLevel int) ConfigOption {
	return func(c *Config) {
		c.SSTNumPerLevel = sstNumPerLevel
	}
}

// 注入过滤器的具体实现. 默认使用每个 key 10 bit 的布隆过滤器.
func WithFilter(filter filter.Filter) ConfigOption {
	return func(c *Config) {
		c.Filter = filter
	}
}

// 注入有序表构造器. 默认使用本项目下实现的跳表 skiplist.
func WithMemtableConstructor(memtableConstructor memtable.MemTableConstructor) ConfigOption {
	return func(c *Config) {
		c.MemTableConstructor = memtableConstructor
	}
}

// 数据块是否使用 snappy 压缩
func WithCompression(enable bool) ConfigOption {
	return func(c *Config) {
		c.Compression = enable
	}
}

func WithBlockCacheSize(size int) ConfigOption {
	return func(c *Config) {
		c.BlockCacheSize = size
	}
}

func WithCreateIfMissing(create bool) ConfigOption {
	return func(c *Config) {
		c.CreateIfMissing = create
	}
}

func WithLogger(logger *log.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

func repaire(c *Config) {
	// lsm tree 默认为 7 层.
	if c.MaxLevel <= 1 {
		c.MaxLevel = 7
	}

	// level0 层每个 sstable 文件默认大小限制为 1MB.
	// 且每加深一层，sstable 文件大小限制阈值放大 10 倍.
	if c.SSTSize <= 0 {
		c.SSTSize = 1024 * 1024
	}

	// sstable 中每个 block 块的大小限制. 默认为 16KB.
	if c.SSTDataBlockSize <= 0 {
		c.SSTDataBlockSize = 16 * 1024 // 16KB
	}

	// 每个 level 层预期最多存放的 sstable 文件个数. 默认为 10 个.
	if c.SSTNumPerLevel <= 0 {
		c.SSTNumPerLevel = 10
	}

	if c.Filter == nil {
		c.Filter, _ = filter.NewBloomFilter(10)
	}

	if c.MemTableConstructor == nil {
		c.MemTableConstructor = memtable.NewSkiplist
	}

	if c.Logger == nil {
		c.Logger = &log.Logger{Level: log.ErrorLevel, Writer: &log.IOWriter{Writer: io.Discard}}
	}
}
