package golsm

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
	"github.com/xiaoxuxiansheng/golsm-filterbench/wal"
)

// 读取 sst 文件，还原出整棵树
func (t *Tree) constructTree() error {
	// 读取 sst 文件目录下的 sst 文件列表
	sstEntries, err := t.getSortedSSTEntries()
	if err != nil {
		return err
	}

	// 遍历每个 sst 文件，将其加载为 node 添加 lsm tree 的 nodes 内存切片中
	for _, sstEntry := range sstEntries {
		if err = t.loadNode(sstEntry); err != nil {
			return err
		}
	}

	// level1 及以下各层按照 key 范围排序
	for level := 1; level < len(t.nodes); level++ {
		nodes := t.nodes[level]
		sort.Slice(nodes, func(i, j int) bool {
			return bytes.Compare(nodes[i].Start(), nodes[j].Start()) < 0
		})
	}
	return nil
}

func (t *Tree) getSortedSSTEntries() ([]fs.DirEntry, error) {
	allEntries, err := os.ReadDir(t.conf.Dir)
	if err != nil {
		return nil, err
	}

	sstEntries := make([]fs.DirEntry, 0, len(allEntries))
	for _, entry := range allEntries {
		if entry.IsDir() {
			continue
		}

		if !strings.HasSuffix(entry.Name(), ".sst") {
			continue
		}

		sstEntries = append(sstEntries, entry)
	}

	sort.Slice(sstEntries, func(i, j int) bool {
		levelI, seqI, _ := getLevelSeqFromSSTFile(sstEntries[i].Name())
		levelJ, seqJ, _ := getLevelSeqFromSSTFile(sstEntries[j].Name())
		if levelI == levelJ {
			return seqI < seqJ
		}
		return levelI < levelJ
	})
	return sstEntries, nil
}

// 将一个 sst 文件作为一个 node 加载进入 lsm tree 的拓扑结构中
func (t *Tree) loadNode(sstEntry fs.DirEntry) error {
	// 解析 sst 文件名，得知 sst 文件对应的 level 以及 seq 号
	level, seq, ok := getLevelSeqFromSSTFile(sstEntry.Name())
	if !ok {
		t.conf.Logger.Warn().Str("file", sstEntry.Name()).Msg("skip unrecognized sst file")
		return nil
	}
	if level >= len(t.nodes) {
		return fmt.Errorf("sst file %s exceeds max level %d", sstEntry.Name(), t.conf.MaxLevel)
	}

	// 创建 sst 文件对应的 reader
	sstReader, err := NewSSTReader(sstEntry.Name(), t.conf)
	if err != nil {
		return err
	}

	// 读取 footer、meta、filter 与 index
	info, err := sstReader.Load()
	if err != nil {
		_ = sstReader.Close()
		// 写了一半的 sstable. 对应的 wal 或者 compact 的输入文件仍在，可以安全删除
		if errors.Is(err, errCorruptSST) || errors.Is(err, errCorruptBlock) {
			t.conf.Logger.Warn().Err(err).Str("file", sstEntry.Name()).Msg("remove incomplete sst file")
			return os.Remove(path.Join(t.conf.Dir, sstEntry.Name()))
		}
		return err
	}

	// 将 sst 文件作为一个 node 插入到 lsm tree 中
	t.nodes[level] = append(t.nodes[level], NewNode(t.conf, sstEntry.Name(), sstReader, level, seq, info, t.blockCache))
	if seq > t.levelToSeq[level].Load() {
		t.levelToSeq[level].Store(seq)
	}
	return nil
}

func getLevelSeqFromSSTFile(file string) (level int, seq int32, ok bool) {
	file = strings.TrimSuffix(file, ".sst")
	rawLevel, rawSeq, found := strings.Cut(file, "_")
	if !found {
		return 0, 0, false
	}
	level, err := strconv.Atoi(rawLevel)
	if err != nil || level < 0 {
		return 0, 0, false
	}
	_seq, err := strconv.ParseInt(rawSeq, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return level, int32(_seq), true
}

// 读取 wal 还原出 memtable
func (t *Tree) constructMemtable() error {
	// 1 读 wal 目录，获取所有的 wal 文件
	raw, err := os.ReadDir(path.Join(t.conf.Dir, walDirName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	// 2 wal 文件除杂
	var wals []fs.DirEntry
	for _, entry := range raw {
		if entry.IsDir() {
			continue
		}

		// 要求文件必须为 .wal 类型
		if !strings.HasSuffix(entry.Name(), ".wal") {
			continue
		}

		wals = append(wals, entry)
	}

	// 3 倘若 wal 目录不存在或者 wal 文件不存在，则构造一个新的 memtable
	if len(wals) == 0 {
		return t.newMemTable()
	}

	// 4 依次还原 memtable. 最晚一个 memtable 作为读写 memtable
	// 前置 memtable 作为只读 memtable，由 compact 协程启动后依次溢写
	return t.restoreMemTable(wals)
}

// 基于 wal 文件还原出一系列只读 memtable 和唯一一个读写 memtable
func (t *Tree) restoreMemTable(wals []fs.DirEntry) error {
	// 1 wal 排序，index 单调递增，数据实时性也随之单调递增
	sort.Slice(wals, func(i, j int) bool {
		indexI := walFileToMemTableIndex(wals[i].Name())
		indexJ := walFileToMemTableIndex(wals[j].Name())
		return indexI < indexJ
	})

	// 2 依次还原 memtable
	for i := 0; i < len(wals); i++ {
		name := wals[i].Name()
		file := path.Join(t.conf.Dir, walDirName, name)

		table, validSize, err := t.restoreWAL(file)
		if err != nil {
			return err
		}

		if i < len(wals)-1 {
			// memtable 作为只读 memtable，继续推进完成溢写落盘流程
			t.rOnlyMemTable = append(t.rOnlyMemTable, &memTableCompactItem{
				walFile:  file,
				memTable: table,
			})
			continue
		}

		// 倘若是最后一个 wal 文件，则 memtable 作为读写 memtable. 截掉尾部残缺的记录后继续追加写入
		if err = os.Truncate(file, validSize); err != nil {
			return err
		}
		walWriter, err := wal.NewWALWriter(file)
		if err != nil {
			return err
		}
		t.memTable = table
		t.memTableIndex = walFileToMemTableIndex(name)
		t.walWriter = walWriter
	}
	return nil
}

func (t *Tree) restoreWAL(file string) (memtable.MemTable, int64, error) {
	// 构建与 wal 文件对应的 walReader
	walReader, err := wal.NewWALReader(file)
	if err != nil {
		return nil, 0, err
	}
	defer walReader.Close()

	// 通过 reader 读取 wal 文件内容，将数据注入到 memtable 中
	table := t.conf.MemTableConstructor()
	n, err := walReader.RestoreToMemtable(table)
	if err != nil {
		return nil, 0, err
	}
	t.conf.Logger.Debug().Str("wal", file).Int("records", n).Msg("wal restored")
	return table, walReader.ValidSize(), nil
}
