package bench

import (
	"github.com/phuslu/log"

	golsm "github.com/xiaoxuxiansheng/golsm-filterbench"
	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
)

// 压测访问存储的入口
type Store interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	// upper 为 nil 时不设上界
	NewIterator(upper []byte) Iterator
	// block 缓存累计的命中与未命中次数，没有缓存时均为 0
	CacheStats() (hits, misses uint64)
	Close() error
}

type Iterator interface {
	Seek(key []byte)
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

// 打开存储. createIfMissing 为 false 且存储不存在时返回 golsm.ErrStoreNotExist
type Opener func(dir string, f filter.Filter, createIfMissing bool) (Store, error)

type lsmStore struct {
	tree *golsm.Tree
}

// 以 golsm 作为存储
func OpenLSM(dir string, f filter.Filter, createIfMissing bool, sc StoreConfig, logger *log.Logger) (Store, error) {
	opts := []golsm.ConfigOption{
		golsm.WithFilter(f),
		golsm.WithCreateIfMissing(createIfMissing),
		golsm.WithBlockCacheSize(sc.BlockCacheSize),
		golsm.WithLogger(logger),
	}
	if sc.MemTable != "" {
		constructor, err := memtable.ConstructorByName(sc.MemTable)
		if err != nil {
			return nil, err
		}
		opts = append(opts, golsm.WithMemtableConstructor(constructor))
	}
	if sc.SSTSize > 0 {
		opts = append(opts, golsm.WithSSTSize(sc.SSTSize))
	}
	if sc.BlockSize > 0 {
		opts = append(opts, golsm.WithSSTDataBlockSize(sc.BlockSize))
	}
	if sc.Compression != nil {
		opts = append(opts, golsm.WithCompression(*sc.Compression))
	}

	conf, err := golsm.NewConfig(dir, opts...)
	if err != nil {
		return nil, err
	}
	tree, err := golsm.NewTree(conf)
	if err != nil {
		return nil, err
	}
	return &lsmStore{tree: tree}, nil
}

func (s *lsmStore) Put(key, value []byte) error {
	return s.tree.Put(key, value)
}

func (s *lsmStore) Get(key []byte) ([]byte, bool, error) {
	return s.tree.Get(key)
}

func (s *lsmStore) NewIterator(upper []byte) Iterator {
	if upper == nil {
		return s.tree.NewIterator()
	}
	return s.tree.NewIterator(golsm.WithUpperBound(upper))
}

func (s *lsmStore) CacheStats() (hits, misses uint64) {
	return s.tree.CacheStats()
}

func (s *lsmStore) Close() error {
	return s.tree.Close()
}
