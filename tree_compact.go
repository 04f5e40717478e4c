package golsm

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
)

type memTableCompactItem struct {
	walFile  string
	memTable memtable.MemTable
}

// 运行 compact 协程. 溢写与 level 间的归并都在该协程内串行执行
func (t *Tree) compact() {
	defer close(t.donec)
	for {
		select {
		// 接收到 lsm tree 终止信号，退出协程.
		case <-t.stopc:
			return
		// 存在只读 memtable，按写入先后依次溢写到磁盘成为 level0 层 sstable 文件.
		case <-t.memCompactC:
			for !t.stopped() {
				item := t.oldestReadOnly()
				if item == nil {
					break
				}
				if err := t.compactMemTable(item); err != nil {
					t.conf.Logger.Error().Err(err).Str("wal", item.walFile).Msg("flush memtable failed")
					break
				}
				t.compactLevels()
			}
		}
	}
}

func (t *Tree) stopped() bool {
	select {
	case <-t.stopc:
		return true
	default:
		return false
	}
}

func (t *Tree) oldestReadOnly() *memTableCompactItem {
	t.dataLock.RLock()
	defer t.dataLock.RUnlock()
	if len(t.rOnlyMemTable) == 0 {
		return nil
	}
	return t.rOnlyMemTable[0]
}

// 自 level0 开始逐层检查，数据量超限的层与下一层执行归并
func (t *Tree) compactLevels() {
	// 最后一层不执行 compact 操作
	for level := 0; level < len(t.nodes)-1; level++ {
		for !t.stopped() && t.needCompact(level) {
			if err := t.compactLevel(level); err != nil {
				t.conf.Logger.Error().Err(err).Int("level", level).Msg("compact level failed")
				return
			}
		}
	}
}

func (t *Tree) needCompact(level int) bool {
	t.levelLocks[level].RLock()
	defer t.levelLocks[level].RUnlock()

	var size uint64
	for _, node := range t.nodes[level] {
		size += node.size
	}
	return size > t.conf.SSTSize*uint64(math.Pow10(level))*uint64(t.conf.SSTNumPerLevel)
}

func (t *Tree) compactLevel(level int) error {
	// 获取到 level 和 level + 1 层需要进行归并的节点
	// 随着 index 递增，数据实时性递增
	pickedNodes := t.pickCompactNodes(level)
	pickedKVs, err := t.pickedNodesToKVs(pickedNodes)
	if err != nil {
		return err
	}

	// 执行归并排序，得到多个节点，插入到下一层
	sstLimit := t.conf.SSTSize * uint64(math.Pow10(level+1))
	var (
		newNodes  []*Node
		sstWriter *SSTWriter
		seq       int32
	)
	for i, kv := range pickedKVs {
		if sstWriter == nil {
			seq = t.levelToSeq[level+1].Add(1)
			if sstWriter, err = NewSSTWriter(t.sstFile(level+1, seq), t.conf); err != nil {
				return err
			}
		}

		sstWriter.Append(kv.Key, kv.Value)
		if sstWriter.Size() <= sstLimit && i < len(pickedKVs)-1 {
			continue
		}

		node, err := t.finishNode(sstWriter, level+1, seq)
		sstWriter.Close()
		sstWriter = nil
		if err != nil {
			return err
		}
		newNodes = append(newNodes, node)
	}

	// 新节点全部落盘后，再一次性替换被合并的节点
	t.replaceNodes(level, pickedNodes, newNodes)
	t.conf.Logger.Debug().Int("level", level).Int("picked", len(pickedNodes)).Int("output", len(newNodes)).Int("kvs", len(pickedKVs)).Msg("level compacted")
	return nil
}

// 以 level 层的首个节点与中间节点的 key 范围为起点，不断吸收 level 与 level + 1 层中与之重叠的节点直到范围不再变化
func (t *Tree) pickCompactNodes(level int) []*Node {
	t.levelLocks[level].RLock()
	startKey, endKey := t.nodes[level][0].Start(), t.nodes[level][0].End()
	mid := t.nodes[level][len(t.nodes[level])>>1]
	t.levelLocks[level].RUnlock()

	if bytes.Compare(mid.Start(), startKey) < 0 {
		startKey = mid.Start()
	}
	if bytes.Compare(mid.End(), endKey) > 0 {
		endKey = mid.End()
	}

	picked := make(map[*Node]struct{})
	for changed := true; changed; {
		changed = false
		for i := level; i <= level+1; i++ {
			t.levelLocks[i].RLock()
			for _, node := range t.nodes[i] {
				if _, ok := picked[node]; ok {
					continue
				}
				if bytes.Compare(endKey, node.Start()) < 0 || bytes.Compare(startKey, node.End()) > 0 {
					continue
				}
				if bytes.Compare(node.Start(), startKey) < 0 {
					startKey = node.Start()
				}
				if bytes.Compare(node.End(), endKey) > 0 {
					endKey = node.End()
				}
				picked[node] = struct{}{}
				changed = true
			}
			t.levelLocks[i].RUnlock()
		}
	}

	// level + 1 层的数据更旧，排在前面；level0 层内部 seq 越大越新
	var pickedNodes []*Node
	for i := level + 1; i >= level; i-- {
		t.levelLocks[i].RLock()
		for _, node := range t.nodes[i] {
			if _, ok := picked[node]; ok {
				pickedNodes = append(pickedNodes, node)
			}
		}
		t.levelLocks[i].RUnlock()
	}
	return pickedNodes
}

func (t *Tree) pickedNodesToKVs(pickedNodes []*Node) ([]*KV, error) {
	// index 越小，数据越久. 所以大 index 数据覆盖小 index 数据
	table := t.conf.MemTableConstructor()
	for _, node := range pickedNodes {
		kvs, err := node.GetAll()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", node.file, err)
		}
		for _, kv := range kvs {
			table.Put(kv.Key, kv.Value)
		}
	}

	_kvs := table.All()
	kvs := make([]*KV, 0, len(_kvs))
	for _, kv := range _kvs {
		kvs = append(kvs, &KV{
			Key:   kv.Key,
			Value: kv.Value,
		})
	}
	return kvs, nil
}

// 在 level 与 level + 1 两层的锁保护下移除被合并的节点并插入新节点
func (t *Tree) replaceNodes(level int, oldNodes, newNodes []*Node) {
	removed := make(map[*Node]struct{}, len(oldNodes))
	for _, node := range oldNodes {
		removed[node] = struct{}{}
	}

	t.levelLocks[level].Lock()
	t.levelLocks[level+1].Lock()
	for i := level; i <= level+1; i++ {
		kept := t.nodes[i][:0:0]
		for _, node := range t.nodes[i] {
			if _, ok := removed[node]; !ok {
				kept = append(kept, node)
			}
		}
		t.nodes[i] = kept
	}
	t.nodes[level+1] = append(t.nodes[level+1], newNodes...)
	sort.Slice(t.nodes[level+1], func(i, j int) bool {
		return bytes.Compare(t.nodes[level+1][i].Start(), t.nodes[level+1][j].Start()) < 0
	})
	t.levelLocks[level+1].Unlock()
	t.levelLocks[level].Unlock()

	// 迭代器可能仍持有这些节点，文件在最后一次释放引用时删除
	for _, node := range oldNodes {
		node.Destroy()
	}
}

// 将只读 memtable 溢写落盘成为 level0 层 sstable 文件
func (t *Tree) compactMemTable(item *memTableCompactItem) error {
	// 1 memtable 溢写到 0 层 sstable 中
	if item.memTable.EntriesCnt() > 0 {
		if err := t.flushMemTable(item.memTable); err != nil {
			return err
		}
	}

	// 2 从 rOnly slice 中回收对应的 table
	t.dataLock.Lock()
	for i := 0; i < len(t.rOnlyMemTable); i++ {
		if t.rOnlyMemTable[i] == item {
			t.rOnlyMemTable = append(t.rOnlyMemTable[:i:i], t.rOnlyMemTable[i+1:]...)
			break
		}
	}
	t.dataLock.Unlock()

	// 3 删除相应的预写日志. 因为 memtable 落盘后数据已经安全，不存在丢失风险
	_ = os.Remove(item.walFile)
	return nil
}

func (t *Tree) flushMemTable(memTable memtable.MemTable) error {
	// memtable 写到 level 0 层 sstable 中
	seq := t.levelToSeq[0].Add(1)

	sstWriter, err := NewSSTWriter(t.sstFile(0, seq), t.conf)
	if err != nil {
		return err
	}
	defer sstWriter.Close()

	// 遍历 memtable 写入数据到 sst writer
	for _, kv := range memTable.All() {
		sstWriter.Append(kv.Key, kv.Value)
	}

	node, err := t.finishNode(sstWriter, 0, seq)
	if err != nil {
		return err
	}

	t.levelLocks[0].Lock()
	t.nodes[0] = append(t.nodes[0], node)
	t.levelLocks[0].Unlock()

	t.conf.Logger.Debug().Int32("seq", seq).Int("entries", memTable.EntriesCnt()).Uint64("size", node.Size()).Msg("memtable flushed")
	return nil
}

// sstable 落盘，并构造对应的节点
func (t *Tree) finishNode(sstWriter *SSTWriter, level int, seq int32) (*Node, error) {
	info, err := sstWriter.Finish()
	if err != nil {
		return nil, err
	}

	file := t.sstFile(level, seq)
	sstReader, err := NewSSTReader(file, t.conf)
	if err != nil {
		return nil, err
	}
	return NewNode(t.conf, file, sstReader, level, seq, info, t.blockCache), nil
}

func (t *Tree) sstFile(level int, seq int32) string {
	return fmt.Sprintf("%d_%d.sst", level, seq)
}

func (t *Tree) walFile() string {
	return path.Join(t.conf.Dir, walDirName, fmt.Sprintf("%d.wal", t.memTableIndex))
}

func walFileToMemTableIndex(walFile string) int {
	rawIndex := strings.Replace(walFile, ".wal", "", -1)
	index, _ := strconv.Atoi(rawIndex)
	return index
}
