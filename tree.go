package golsm

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xiaoxuxiansheng/golsm-filterbench/cache"
	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
	"github.com/xiaoxuxiansheng/golsm-filterbench/wal"
)

// 1 构造一棵树，基于 config 与磁盘文件映射
// 2 写入一笔数据
// 3 查询一笔数据
type Tree struct {
	conf *Config

	// 读写数据时使用的锁
	dataLock sync.RWMutex

	// 每层 node 节点使用的读写锁
	levelLocks []sync.RWMutex

	// 读写 memtable
	memTable memtable.MemTable

	// 只读 memtable，按写入先后排列，由 compact 协程依次溢写
	rOnlyMemTable []*memTableCompactItem

	// 预写日志写入口
	walWriter *wal.WALWriter

	// lsm树状数据结构
	nodes [][]*Node

	// 数据块缓存
	blockCache *cache.LRU

	// 存在待溢写的只读 memtable 时，通过该 chan 通知 compact 协程
	memCompactC chan struct{}

	// lsm tree 停止时通过该 chan 传递信号
	stopc chan struct{}

	// compact 协程退出后关闭
	donec chan struct{}

	closeOnce sync.Once

	// memtable index，需要与 wal 文件一一对应
	memTableIndex int

	// 各层 sstable 文件 seq. sstable 文件命名为 level_seq.sst
	levelToSeq []atomic.Int32
}

// 构建出一棵 lsm tree. 目录不存在且未开启 CreateIfMissing 时返回 ErrStoreNotExist
func NewTree(conf *Config) (*Tree, error) {
	if err := conf.prepareDir(); err != nil {
		return nil, err
	}

	// 1 构造 lsm tree 实例
	t := Tree{
		conf:        conf,
		memCompactC: make(chan struct{}, 1),
		stopc:       make(chan struct{}),
		donec:       make(chan struct{}),
		levelToSeq:  make([]atomic.Int32, conf.MaxLevel),
		nodes:       make([][]*Node, conf.MaxLevel),
		levelLocks:  make([]sync.RWMutex, conf.MaxLevel),
	}
	if conf.BlockCacheSize > 0 {
		t.blockCache = cache.NewLRU(conf.BlockCacheSize)
	}

	// 2 读取 sst 文件，还原出整棵树
	if err := t.constructTree(); err != nil {
		t.closeNodes()
		return nil, err
	}

	// 3 读取 wal 还原出 memtable
	if err := t.constructMemtable(); err != nil {
		t.closeNodes()
		return nil, err
	}

	// 4 运行 lsm tree 压缩调整协程，并推进还原出的只读 memtable 的溢写
	go t.compact()
	t.notifyMemCompact()

	conf.Logger.Debug().Str("dir", conf.Dir).Int("rOnlyMemTables", len(t.rOnlyMemTable)).Msg("lsm tree opened")
	return &t, nil
}

// 停止 compact 协程并等待其退出，随后关闭 wal 与全部 sstable
func (t *Tree) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopc)
		<-t.donec

		t.dataLock.Lock()
		if t.walWriter != nil {
			err = t.walWriter.Close()
		}
		t.dataLock.Unlock()

		t.closeNodes()
	})
	return err
}

func (t *Tree) closeNodes() {
	for level := range t.nodes {
		t.levelLocks[level].Lock()
		for _, node := range t.nodes[level] {
			node.Close()
		}
		t.nodes[level] = nil
		t.levelLocks[level].Unlock()
	}
}

// 写入一组 kv 对到 lsm tree. 会直接写入到读写 memtable 中.
func (t *Tree) Put(key, value []byte) error {
	// memtable 持有 key 和 value，复制一份避免调用方复用缓冲区
	key, value = bytes.Clone(key), bytes.Clone(value)
	if value == nil {
		value = []byte{}
	}

	t.dataLock.Lock()
	defer t.dataLock.Unlock()

	// 数据预写入预写日志中，防止因宕机引起 memtable 数据丢失.
	if err := t.walWriter.Write(key, value); err != nil {
		return err
	}

	t.memTable.Put(key, value)

	// 倘若读写跳表的大小未达到 level0 层 sstable 的大小阈值，则直接返回.
	// 考虑到溢写成 sstable 后，需要有一些辅助的元数据，预估容量放大为 5/4 倍
	if uint64(t.memTable.Size()*5/4) <= t.conf.SSTSize {
		return nil
	}

	// 倘若读写跳表数据量达到上限，则需要切换跳表
	return t.refreshMemTableLocked()
}

// 根据 key 读取数据
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.dataLock.RLock()
	// 1 首先读 active memtable.
	value, ok := t.memTable.Get(key)
	if ok {
		t.dataLock.RUnlock()
		return value, true, nil
	}

	// 2 读 readOnly memtable.  按照 index 倒序遍历，因为 index 越大，数据越晚写入，实时性越强
	for i := len(t.rOnlyMemTable) - 1; i >= 0; i-- {
		value, ok = t.rOnlyMemTable[i].memTable.Get(key)
		if ok {
			t.dataLock.RUnlock()
			return value, true, nil
		}
	}
	t.dataLock.RUnlock()

	// 3 读 sstable level0 层. 按照 index 倒序遍历，因为 index 越大，数据越晚写入，实时性越强
	var err error
	t.levelLocks[0].RLock()
	for i := len(t.nodes[0]) - 1; i >= 0; i-- {
		if value, ok, err = t.nodes[0][i].Get(key); err != nil {
			t.levelLocks[0].RUnlock()
			return nil, false, err
		}
		if ok {
			t.levelLocks[0].RUnlock()
			return value, true, nil
		}
	}
	t.levelLocks[0].RUnlock()

	// 4 依次读 sstable level 1 ~ i 层，每层至多只需要和一个 sstable 交互. 因为这些 level 层中的 sstable 都是无重复数据且全局有序的
	for level := 1; level < len(t.nodes); level++ {
		t.levelLocks[level].RLock()
		node, ok := t.levelBinarySearch(level, key)
		if !ok {
			t.levelLocks[level].RUnlock()
			continue
		}
		if value, ok, err = node.Get(key); err != nil {
			t.levelLocks[level].RUnlock()
			return nil, false, err
		}
		t.levelLocks[level].RUnlock()
		if ok {
			return value, true, nil
		}
	}

	// 5 至此都没有读到数据，则返回 key 不存在.
	return nil, false, nil
}

// 各层的 sstable 数量，自 level0 开始
func (t *Tree) LevelNodeCounts() []int {
	counts := make([]int, len(t.nodes))
	for level := range t.nodes {
		t.levelLocks[level].RLock()
		counts[level] = len(t.nodes[level])
		t.levelLocks[level].RUnlock()
	}
	return counts
}

// block 缓存的命中与未命中次数
func (t *Tree) CacheStats() (hits, misses uint64) {
	if t.blockCache == nil {
		return 0, 0
	}
	return t.blockCache.Stats()
}

// 切换读写跳表为只读跳表，并构建新的读写跳表
func (t *Tree) refreshMemTableLocked() error {
	// 辞旧
	// 将读写跳表切换为只读跳表，追加到 slice 中，并通知 compact 协程，由其负责进行溢写成为 level0 层 sst 文件的操作.
	oldItem := memTableCompactItem{
		walFile:  t.walFile(),
		memTable: t.memTable,
	}
	t.rOnlyMemTable = append(t.rOnlyMemTable, &oldItem)
	if err := t.walWriter.Close(); err != nil {
		return err
	}
	t.notifyMemCompact()

	// 迎新
	// 构造一个新的读写 memtable，并构造与之相应的 wal 文件.
	t.memTableIndex++
	return t.newMemTable()
}

// 定位 level 层中 [start, end] 覆盖 key 的节点. level >= 1 的各节点有序且互不重叠
func (t *Tree) levelBinarySearch(level int, key []byte) (*Node, bool) {
	nodes := t.nodes[level]
	i := sort.Search(len(nodes), func(i int) bool {
		return bytes.Compare(nodes[i].End(), key) >= 0
	})
	if i == len(nodes) || bytes.Compare(nodes[i].Start(), key) > 0 {
		return nil, false
	}
	return nodes[i], true
}

func (t *Tree) newMemTable() error {
	walWriter, err := wal.NewWALWriter(t.walFile())
	if err != nil {
		return err
	}
	t.walWriter = walWriter
	t.memTable = t.conf.MemTableConstructor()
	return nil
}

func (t *Tree) notifyMemCompact() {
	select {
	case t.memCompactC <- struct{}{}:
	default:
	}
}
