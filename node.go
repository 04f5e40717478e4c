package golsm

import (
	"bytes"
	"os"
	"path"
	"sort"
	"sync/atomic"

	"github.com/xiaoxuxiansheng/golsm-filterbench/cache"
	"github.com/xiaoxuxiansheng/golsm-filterbench/filter"
)

// lsm tree 中的一个 sstable 节点.
// 节点被 tree 与迭代器共同持有，引用计数归零后关闭文件；被 compact 淘汰的节点在此时删除文件
type Node struct {
	conf          *Config           // 配置文件
	file          string            // sstable 对应的文件名，不含目录路径
	level         int               // sstable 所在 level 层级
	seq           int32             // sstable 的 seq 序列号. 对应为文件名中的 level_seq.sst 中的 seq
	size          uint64            // sstable 的大小，单位 byte
	blockToFilter map[uint64][]byte // 各 block 对应的 filter 数据
	index         []*Index          // 各 block 对应的索引
	startKey      []byte            // sstable 中最小的 key
	endKey        []byte            // sstable 中最大的 key
	filterName    string            // 生成 filter 数据的过滤器名称
	compressed    bool              // 数据块是否压缩
	sstReader     *SSTReader        // 读取 sst 文件的 reader 入口
	blockCache    *cache.LRU        // 数据块缓存，可以为 nil

	refs     atomic.Int32
	obsolete atomic.Bool
}

func NewNode(conf *Config, file string, sstReader *SSTReader, level int, seq int32, info *SSTInfo, blockCache *cache.LRU) *Node {
	n := Node{
		conf:          conf,
		file:          file,
		sstReader:     sstReader,
		level:         level,
		seq:           seq,
		size:          info.Size,
		blockToFilter: info.BlockToFilter,
		index:         info.Index,
		startKey:      info.StartKey,
		endKey:        info.EndKey,
		filterName:    info.FilterName,
		compressed:    info.Compressed,
		blockCache:    blockCache,
	}
	n.refs.Store(1)
	return &n
}

func (n *Node) GetAll() ([]*KV, error) {
	var kvs []*KV
	for i := 1; i < len(n.index); i++ {
		blockKVs, err := n.readBlock(i)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, blockKVs...)
	}
	return kvs, nil
}

// 查看是否在节点中
func (n *Node) Get(key []byte) ([]byte, bool, error) {
	// 通过索引定位到具体的块
	i, ok := n.searchIndex(key)
	if !ok {
		return nil, false, nil
	}

	// 过滤器辅助判断 key 是否存在
	if f, ok := n.usableFilter(); ok {
		if !f.MayMatch(key, n.blockToFilter[n.index[i].PrevBlockOffset]) {
			return nil, false, nil
		}
	}

	kvs, err := n.readBlock(i)
	if err != nil {
		return nil, false, err
	}

	j := sort.Search(len(kvs), func(j int) bool {
		return bytes.Compare(kvs[j].Key, key) >= 0
	})
	if j < len(kvs) && bytes.Equal(kvs[j].Key, key) {
		return kvs[j].Value, true, nil
	}
	return nil, false, nil
}

func (n *Node) Size() uint64 {
	return n.size
}

func (n *Node) Start() []byte {
	return n.startKey
}

func (n *Node) End() []byte {
	return n.endKey
}

func (n *Node) Index() (level int, seq int32) {
	level, seq = n.level, n.seq
	return
}

func (n *Node) FilterName() string {
	return n.filterName
}

func (n *Node) Ref() {
	n.refs.Add(1)
}

// 释放一次引用. 最后一次释放时关闭文件，已被淘汰的节点同时删除文件
func (n *Node) Unref() {
	if n.refs.Add(-1) > 0 {
		return
	}
	_ = n.sstReader.Close()
	if !n.obsolete.Load() {
		return
	}
	if n.blockCache != nil {
		n.blockCache.EvictFile(n.file)
	}
	_ = os.Remove(path.Join(n.conf.Dir, n.file))
}

// 节点被 compact 淘汰，释放 tree 持有的引用
func (n *Node) Destroy() {
	n.obsolete.Store(true)
	n.Unref()
}

func (n *Node) Close() {
	n.Unref()
}

// 当前配置的过滤器与生成 filter 数据的过滤器同名时才可用
func (n *Node) usableFilter() (filter.Filter, bool) {
	f := n.conf.Filter
	if f == nil || f.Name() != n.filterName {
		return nil, false
	}
	return f, true
}

func (n *Node) usableRangeFilter() (filter.RangeFilter, bool) {
	f, ok := n.usableFilter()
	if !ok {
		return nil, false
	}
	rf, ok := f.(filter.RangeFilter)
	return rf, ok
}

// 读取第 i 个索引指向的数据块，优先从缓存中获取
func (n *Node) readBlock(i int) ([]*KV, error) {
	idx := n.index[i]
	key := cache.BlockKey{File: n.file, Offset: idx.PrevBlockOffset}
	if n.blockCache != nil {
		if raw, ok := n.blockCache.Get(key); ok {
			return decodeBlock(raw)
		}
	}

	raw, err := n.sstReader.ReadRawDataBlock(idx.PrevBlockOffset, idx.PrevBlockSize, n.compressed)
	if err != nil {
		return nil, err
	}
	if n.blockCache != nil {
		n.blockCache.Put(key, raw)
	}
	return decodeBlock(raw)
}

// 二分查找 key 可能从属的 block，保证 key <= index[i].key && key > index[i-1].key.
// index[0] 为哨兵，命中时说明 key 小于节点中所有的 key
func (n *Node) searchIndex(key []byte) (int, bool) {
	i := sort.Search(len(n.index), func(i int) bool {
		return bytes.Compare(n.index[i].Key, key) >= 0
	})
	if i == 0 || i == len(n.index) {
		return 0, false
	}
	return i, true
}
