package golsm

import (
	"bytes"
	"encoding/binary"
	"os"
	"path"

	"github.com/xiaoxuxiansheng/golsm-filterbench/util"
)

// meta 块中的 key
const (
	metaKeyCompression = "compression"
	metaKeyFilter      = "filter"
	metaKeySmallest    = "smallest"

	compressionSnappy = "snappy"
	compressionNone   = "none"
)

// sstable 中用于快速检索 block 的索引
type Index struct {
	Key             []byte // 索引的 key. 保证其 >= 前一个 block 最大 key； < 后一个 block 的最小 key
	PrevBlockOffset uint64 // 索引前一个 block 起始位置在 sstable 中对应的 offset
	PrevBlockSize   uint64 // 索引前一个 block 的大小，单位 byte
}

// sstable 落盘后供上层构造 node 使用的元信息
type SSTInfo struct {
	Size          uint64            // 文件大小，单位 byte
	BlockToFilter map[uint64][]byte // block offset -> filter 数据
	Index         []*Index          // index[0] 为哨兵，index[i] 指向第 i 个数据块
	FilterName    string            // 生成 filter 数据的过滤器名称
	Compressed    bool              // 数据块是否经过 snappy 压缩
	StartKey      []byte            // 最小的 key
	EndKey        []byte            // 最大的 key
}

// 对应于 lsm tree 中的一个 sstable. 这是写入流程的视角.
// 文件格式：数据块... | 过滤器块 | 索引块 | meta 块 | footer
type SSTWriter struct {
	conf          *Config           // 配置文件
	dest          *os.File          // sstable 对应的磁盘文件
	dataBuf       *bytes.Buffer     // 数据块缓冲区 key -> val
	filterBuf     *bytes.Buffer     // 过滤器块缓冲区 prev block offset -> filter data
	indexBuf      *bytes.Buffer     // 索引块缓冲区 index key -> prev block offset, prev block size
	metaBuf       *bytes.Buffer     // meta 块缓冲区
	blockToFilter map[uint64][]byte // prev block offset -> filter data
	index         []*Index          // index key -> prev block offset, prev block size

	dataBlock     *Block   // 数据块
	filterBlock   *Block   // 过滤器块
	indexBlock    *Block   // 索引块
	metaBlock     *Block   // meta 块
	blockKeys     [][]byte // 当前数据块中的 key，按序排列，用于生成 filter
	assistScratch [20]byte // 用于在写索引块时临时使用的辅助缓冲区

	startKey        []byte // 第一笔数据的 key
	prevKey         []byte // 前一笔数据的 key
	prevBlockOffset uint64 // 前一个数据块的起始偏移位置
	prevBlockSize   uint64 // 前一个数据块的大小
}

func NewSSTWriter(file string, conf *Config) (*SSTWriter, error) {
	dest, err := os.OpenFile(path.Join(conf.Dir, file), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	return &SSTWriter{
		conf:          conf,
		dest:          dest,
		dataBuf:       bytes.NewBuffer([]byte{}),
		filterBuf:     bytes.NewBuffer([]byte{}),
		indexBuf:      bytes.NewBuffer([]byte{}),
		metaBuf:       bytes.NewBuffer([]byte{}),
		blockToFilter: make(map[uint64][]byte),
		dataBlock:     NewBlock(),
		filterBlock:   NewBlock(),
		indexBlock:    NewBlock(),
		metaBlock:     NewBlock(),
		prevKey:       []byte{},
	}, nil
}

// 完成 sstable 的全部处理流程，包括将其中的数据溢写到磁盘，并返回信息供上层的 lsm 获取缓存
func (s *SSTWriter) Finish() (*SSTInfo, error) {
	// 完成最后一个块的处理
	s.refreshBlock()
	// 补齐最后一个 index
	s.insertIndex(s.prevKey)

	compression := compressionNone
	if s.conf.Compression {
		compression = compressionSnappy
	}
	// meta 块按照 key 的字典序写入
	s.metaBlock.Append([]byte(metaKeyCompression), []byte(compression))
	s.metaBlock.Append([]byte(metaKeyFilter), []byte(s.conf.Filter.Name()))
	s.metaBlock.Append([]byte(metaKeySmallest), s.startKey)

	_, _ = s.filterBlock.FlushTo(s.filterBuf, false)
	_, _ = s.indexBlock.FlushTo(s.indexBuf, false)
	_, _ = s.metaBlock.FlushTo(s.metaBuf, false)

	// 处理 footer，依次记录过滤器块、索引块、meta 块的起始位置与大小
	footer := make([]byte, s.conf.SSTFooterSize)
	var n int
	size := uint64(s.dataBuf.Len())
	for _, buf := range []*bytes.Buffer{s.filterBuf, s.indexBuf, s.metaBuf} {
		n += binary.PutUvarint(footer[n:], size)
		n += binary.PutUvarint(footer[n:], uint64(buf.Len()))
		size += uint64(buf.Len())
	}
	size += uint64(len(footer))

	// 依次写入文件
	for _, part := range [][]byte{s.dataBuf.Bytes(), s.filterBuf.Bytes(), s.indexBuf.Bytes(), s.metaBuf.Bytes(), footer} {
		if _, err := s.dest.Write(part); err != nil {
			return nil, err
		}
	}
	if err := s.dest.Sync(); err != nil {
		return nil, err
	}

	return &SSTInfo{
		Size:          size,
		BlockToFilter: s.blockToFilter,
		Index:         s.index,
		FilterName:    s.conf.Filter.Name(),
		Compressed:    s.conf.Compression,
		StartKey:      s.startKey,
		EndKey:        append([]byte{}, s.prevKey...),
	}, nil
}

// 追加一笔数据到 sstable 中. key 需要严格递增
func (s *SSTWriter) Append(key, value []byte) {
	// 倘若开启一个新的数据块，需要添加索引
	if s.dataBlock.EntriesCnt() == 0 {
		s.insertIndex(key)
	}
	if s.startKey == nil {
		s.startKey = append([]byte{}, key...)
	}

	s.dataBlock.Append(key, value)
	// 记录块内的 key，在块完成时统一生成 filter
	s.blockKeys = append(s.blockKeys, key)
	s.prevKey = key

	// 倘若数据块大小超限，则需要将其添加到 dataBuffer，并重置块
	if s.dataBlock.Size() >= s.conf.SSTDataBlockSize {
		s.refreshBlock()
	}
}

// 已经落入缓冲区的数据块大小
func (s *SSTWriter) Size() uint64 {
	return uint64(s.dataBuf.Len())
}

func (s *SSTWriter) Close() {
	_ = s.dest.Close()
	s.dataBuf.Reset()
	s.indexBuf.Reset()
	s.filterBuf.Reset()
	s.metaBuf.Reset()
}

func (s *SSTWriter) insertIndex(key []byte) {
	// 获取索引的 key
	indexKey := append([]byte{}, util.GetSeparatorBetween(s.prevKey, key)...)
	n := binary.PutUvarint(s.assistScratch[0:], s.prevBlockOffset)
	n += binary.PutUvarint(s.assistScratch[n:], s.prevBlockSize)

	s.indexBlock.Append(indexKey, s.assistScratch[:n])
	s.index = append(s.index, &Index{
		Key:             indexKey,
		PrevBlockOffset: s.prevBlockOffset,
		PrevBlockSize:   s.prevBlockSize,
	})
}

func (s *SSTWriter) refreshBlock() {
	if len(s.blockKeys) == 0 {
		return
	}

	s.prevBlockOffset = uint64(s.dataBuf.Len())
	// 基于块内有序的 key 生成 filter
	filterData := s.conf.Filter.CreateFilter(s.blockKeys)
	s.blockToFilter[s.prevBlockOffset] = filterData
	n := binary.PutUvarint(s.assistScratch[0:], s.prevBlockOffset)
	s.filterBlock.Append(s.assistScratch[:n], filterData)
	s.blockKeys = s.blockKeys[:0]

	// 将 block 的数据添加到缓冲区
	s.prevBlockSize, _ = s.dataBlock.FlushTo(s.dataBuf, s.conf.Compression)
}
