package golsm

import (
	"bytes"
	"sort"

	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
)

type iteratorOptions struct {
	upperBound []byte
}

type IteratorOption func(*iteratorOptions)

// 迭代范围的上界，不包含 key 本身. 设置后支持范围判定的过滤器可以跳过不相交的数据块
func WithUpperBound(key []byte) IteratorOption {
	return func(o *iteratorOptions) {
		o.upperBound = key
	}
}

// 迭代器的数据源. 各数据源内部 key 严格递增
type source interface {
	seek(key []byte) error
	next() error
	valid() bool
	key() []byte
	value() []byte
}

// 有序遍历整棵 lsm tree 的迭代器. 同一个 key 只返回实时性最强的版本.
// 迭代器持有创建时刻各 sstable 节点的引用，使用完毕后必须调用 Close
type Iterator struct {
	sources []source // 按实时性由强到弱排列
	nodes   []*Node
	upper   []byte
	cur     int // 当前 key 所在的数据源，-1 表示迭代结束
	err     error
	closed  bool
}

// 创建迭代器. 创建后需要先 Seek 才能读取数据
func (t *Tree) NewIterator(opts ...IteratorOption) *Iterator {
	var o iteratorOptions
	for _, opt := range opts {
		opt(&o)
	}

	it := Iterator{
		upper: o.upperBound,
		cur:   -1,
	}

	// 读写 memtable 与只读 memtable 拍摄快照. 只读 memtable 越靠后越新
	t.dataLock.RLock()
	it.sources = append(it.sources, &memSource{kvs: t.memTable.All()})
	for i := len(t.rOnlyMemTable) - 1; i >= 0; i-- {
		it.sources = append(it.sources, &memSource{kvs: t.rOnlyMemTable[i].memTable.All()})
	}
	t.dataLock.RUnlock()

	// level0 层的节点之间存在重叠，每个节点单独作为一个数据源，seq 越大越新
	t.levelLocks[0].RLock()
	for i := len(t.nodes[0]) - 1; i >= 0; i-- {
		node := t.nodes[0][i]
		node.Ref()
		it.nodes = append(it.nodes, node)
		it.sources = append(it.sources, newNodesSource([]*Node{node}, o.upperBound))
	}
	t.levelLocks[0].RUnlock()

	// level1 及以下各层的节点有序且互不重叠，每层作为一个数据源
	for level := 1; level < len(t.nodes); level++ {
		t.levelLocks[level].RLock()
		nodes := make([]*Node, len(t.nodes[level]))
		copy(nodes, t.nodes[level])
		for _, node := range nodes {
			node.Ref()
		}
		t.levelLocks[level].RUnlock()

		if len(nodes) == 0 {
			continue
		}
		it.nodes = append(it.nodes, nodes...)
		it.sources = append(it.sources, newNodesSource(nodes, o.upperBound))
	}
	return &it
}

// 定位到第一个 >= key 的位置
func (it *Iterator) Seek(key []byte) {
	it.err = nil
	for _, src := range it.sources {
		if err := src.seek(key); err != nil && it.err == nil {
			it.err = err
		}
	}
	it.locate()
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.cur >= 0
}

// 移动到下一个 key. 所有数据源中与当前 key 相同的旧版本一并跳过
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}

	key := it.Key()
	for _, src := range it.sources {
		if !src.valid() || !bytes.Equal(src.key(), key) {
			continue
		}
		if err := src.next(); err != nil && it.err == nil {
			it.err = err
		}
	}
	it.locate()
}

func (it *Iterator) Key() []byte {
	return it.sources[it.cur].key()
}

func (it *Iterator) Value() []byte {
	return it.sources[it.cur].value()
}

func (it *Iterator) Err() error {
	return it.err
}

// 释放持有的节点引用
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.cur = -1
	for _, node := range it.nodes {
		node.Unref()
	}
	it.nodes = nil
}

// 取各数据源中最小的 key. key 相同时取实时性最强的数据源
func (it *Iterator) locate() {
	it.cur = -1
	for i, src := range it.sources {
		if !src.valid() {
			continue
		}
		if it.cur < 0 || bytes.Compare(src.key(), it.sources[it.cur].key()) < 0 {
			it.cur = i
		}
	}
	if it.cur >= 0 && it.upper != nil && bytes.Compare(it.Key(), it.upper) >= 0 {
		it.cur = -1
	}
}

// memtable 快照
type memSource struct {
	kvs []*memtable.KV
	pos int
}

func (m *memSource) seek(key []byte) error {
	m.pos = sort.Search(len(m.kvs), func(i int) bool {
		return bytes.Compare(m.kvs[i].Key, key) >= 0
	})
	return nil
}

func (m *memSource) next() error {
	m.pos++
	return nil
}

func (m *memSource) valid() bool {
	return m.pos < len(m.kvs)
}

func (m *memSource) key() []byte {
	return m.kvs[m.pos].Key
}

func (m *memSource) value() []byte {
	return m.kvs[m.pos].Value
}

// 一组按 key 范围有序且互不重叠的 sstable 节点，逐个数据块读取
type nodesSource struct {
	nodes []*Node
	upper []byte

	nodeIdx  int    // 当前节点
	blockIdx int    // 当前数据块在节点索引中的下标，从 1 开始
	seekKey  []byte // 最近一次 seek 的 key，用于范围过滤
	kvs      []*KV  // 当前数据块中的数据
	pos      int
}

func newNodesSource(nodes []*Node, upper []byte) *nodesSource {
	return &nodesSource{
		nodes: nodes,
		upper: upper,
	}
}

func (s *nodesSource) seek(key []byte) error {
	s.seekKey = key
	s.kvs, s.pos = nil, 0

	// 定位第一个 end >= key 的节点
	s.nodeIdx = sort.Search(len(s.nodes), func(i int) bool {
		return bytes.Compare(s.nodes[i].End(), key) >= 0
	})
	if s.nodeIdx == len(s.nodes) {
		return nil
	}

	// 定位节点中第一个 index key >= key 的数据块. 命中哨兵时从第一个数据块开始
	index := s.nodes[s.nodeIdx].index
	s.blockIdx = sort.Search(len(index), func(i int) bool {
		return bytes.Compare(index[i].Key, key) >= 0
	})
	if s.blockIdx == 0 {
		s.blockIdx = 1
	}
	if err := s.load(); err != nil {
		return err
	}

	// 首个数据块内跳过 < key 的数据
	for s.valid() && bytes.Compare(s.key(), key) < 0 {
		if err := s.next(); err != nil {
			return err
		}
	}
	return nil
}

func (s *nodesSource) next() error {
	s.pos++
	if s.pos < len(s.kvs) {
		return nil
	}
	s.blockIdx++
	return s.load()
}

// 自 nodeIdx, blockIdx 开始加载第一个可能存在数据的数据块
func (s *nodesSource) load() error {
	s.kvs, s.pos = nil, 0
	for s.nodeIdx < len(s.nodes) {
		node := s.nodes[s.nodeIdx]
		if s.blockIdx >= len(node.index) {
			s.nodeIdx++
			s.blockIdx = 1
			continue
		}
		if s.beyondUpper(node, s.blockIdx) {
			s.nodeIdx = len(s.nodes)
			return nil
		}
		if s.skippable(node, s.blockIdx) {
			s.blockIdx++
			continue
		}

		kvs, err := node.readBlock(s.blockIdx)
		if err != nil {
			return err
		}
		if len(kvs) == 0 {
			s.blockIdx++
			continue
		}
		s.kvs = kvs
		return nil
	}
	return nil
}

// 数据块中最小的 key 已经 >= 上界. 后续的数据块与节点都不需要再读
func (s *nodesSource) beyondUpper(node *Node, blockIdx int) bool {
	if s.upper == nil {
		return false
	}
	if blockIdx == 1 {
		return bytes.Compare(node.Start(), s.upper) >= 0
	}
	// 第 i 个数据块中的 key 都严格大于 index[i-1].Key
	return bytes.Compare(node.index[blockIdx-1].Key, s.upper) >= 0
}

// 借助范围过滤器判定 [seekKey, upper) 与数据块不相交
func (s *nodesSource) skippable(node *Node, blockIdx int) bool {
	if s.upper == nil {
		return false
	}
	rf, ok := node.usableRangeFilter()
	if !ok {
		return false
	}
	return !rf.RangeMayMatch(s.seekKey, s.upper, node.blockToFilter[node.index[blockIdx].PrevBlockOffset])
}

func (s *nodesSource) valid() bool {
	return s.pos < len(s.kvs)
}

func (s *nodesSource) key() []byte {
	return s.kvs[s.pos].Key
}

func (s *nodesSource) value() []byte {
	return s.kvs[s.pos].Value
}
