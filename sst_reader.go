package golsm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/golang/snappy"
)

var errCorruptSST = errors.New("corrupt sstable")

type KV struct {
	Key   []byte
	Value []byte
}

// 对应于 lsm tree 中的一个 sstable. 这是读取流程的视角.
// 所有读操作基于 ReadAt，不依赖文件游标，可以被多个协程并发使用
type SSTReader struct {
	conf         *Config  // 配置文件
	file         string   // 文件名，不含目录
	src          *os.File // 对应的文件
	fileSize     uint64   // 文件总大小
	footerLoaded bool
	filterOffset uint64 // 过滤器块起始位置在 sstable 的 offset
	filterSize   uint64 // 过滤器块的大小，单位 byte
	indexOffset  uint64 // 索引块起始位置在 sstable 的 offset
	indexSize    uint64 // 索引块的大小，单位 byte
	metaOffset   uint64 // meta 块起始位置在 sstable 的 offset
	metaSize     uint64 // meta 块的大小，单位 byte
}

func NewSSTReader(file string, conf *Config) (*SSTReader, error) {
	src, err := os.OpenFile(path.Join(conf.Dir, file), os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &SSTReader{
		conf: conf,
		file: file,
		src:  src,
	}, nil
}

// 读取 footer、meta 块、过滤器块与索引块，还原出 sstable 元信息
func (s *SSTReader) Load() (*SSTInfo, error) {
	if err := s.ReadFooter(); err != nil {
		return nil, err
	}

	meta, err := s.ReadMeta()
	if err != nil {
		return nil, err
	}
	blockToFilter, err := s.ReadFilter()
	if err != nil {
		return nil, err
	}
	index, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("%w: %s has no index", errCorruptSST, s.file)
	}

	return &SSTInfo{
		Size:          s.fileSize,
		BlockToFilter: blockToFilter,
		Index:         index,
		FilterName:    string(meta[metaKeyFilter]),
		Compressed:    string(meta[metaKeyCompression]) == compressionSnappy,
		StartKey:      meta[metaKeySmallest],
		EndKey:        index[len(index)-1].Key,
	}, nil
}

func (s *SSTReader) Size() (uint64, error) {
	if err := s.ReadFooter(); err != nil {
		return 0, err
	}
	return s.fileSize, nil
}

func (s *SSTReader) Close() error {
	return s.src.Close()
}

// 读取 sstable footer 信息，赋给 sstreader 的成员属性
func (s *SSTReader) ReadFooter() error {
	if s.footerLoaded {
		return nil
	}

	stat, err := s.src.Stat()
	if err != nil {
		return err
	}
	footerSize := int64(s.conf.SSTFooterSize)
	if stat.Size() < footerSize {
		return fmt.Errorf("%w: %s shorter than footer", errCorruptSST, s.file)
	}

	footer := make([]byte, footerSize)
	if _, err = s.src.ReadAt(footer, stat.Size()-footerSize); err != nil {
		return err
	}

	var fields [6]uint64
	for i := range fields {
		v, n := binary.Uvarint(footer)
		if n <= 0 {
			return fmt.Errorf("%w: %s bad footer", errCorruptSST, s.file)
		}
		fields[i] = v
		footer = footer[n:]
	}
	s.filterOffset, s.filterSize = fields[0], fields[1]
	s.indexOffset, s.indexSize = fields[2], fields[3]
	s.metaOffset, s.metaSize = fields[4], fields[5]
	s.fileSize = uint64(stat.Size())
	if s.filterOffset+s.filterSize != s.indexOffset || s.indexOffset+s.indexSize != s.metaOffset ||
		s.metaOffset+s.metaSize+uint64(footerSize) != s.fileSize {
		return fmt.Errorf("%w: %s footer mismatch", errCorruptSST, s.file)
	}
	s.footerLoaded = true
	return nil
}

// 读取 meta 块
func (s *SSTReader) ReadMeta() (map[string][]byte, error) {
	if err := s.ReadFooter(); err != nil {
		return nil, err
	}

	block, err := s.ReadBlock(s.metaOffset, s.metaSize)
	if err != nil {
		return nil, err
	}
	kvs, err := decodeBlock(block)
	if err != nil {
		return nil, err
	}

	meta := make(map[string][]byte, len(kvs))
	for _, kv := range kvs {
		meta[string(kv.Key)] = kv.Value
	}
	return meta, nil
}

// 读取过滤器
func (s *SSTReader) ReadFilter() (map[uint64][]byte, error) {
	if err := s.ReadFooter(); err != nil {
		return nil, err
	}

	filterBlock, err := s.ReadBlock(s.filterOffset, s.filterSize)
	if err != nil {
		return nil, err
	}
	kvs, err := decodeBlock(filterBlock)
	if err != nil {
		return nil, err
	}

	blockToFilter := make(map[uint64][]byte, len(kvs))
	for _, kv := range kvs {
		blockOffset, _ := binary.Uvarint(kv.Key)
		blockToFilter[blockOffset] = kv.Value
	}
	return blockToFilter, nil
}

// 读取索引块
func (s *SSTReader) ReadIndex() ([]*Index, error) {
	if err := s.ReadFooter(); err != nil {
		return nil, err
	}

	indexBlock, err := s.ReadBlock(s.indexOffset, s.indexSize)
	if err != nil {
		return nil, err
	}
	kvs, err := decodeBlock(indexBlock)
	if err != nil {
		return nil, err
	}

	index := make([]*Index, 0, len(kvs))
	for _, kv := range kvs {
		blockOffset, n := binary.Uvarint(kv.Value)
		if n <= 0 {
			return nil, fmt.Errorf("%w: %s bad index entry", errCorruptSST, s.file)
		}
		blockSize, _ := binary.Uvarint(kv.Value[n:])
		index = append(index, &Index{
			Key:             kv.Key,
			PrevBlockOffset: blockOffset,
			PrevBlockSize:   blockSize,
		})
	}
	return index, nil
}

// 按照索引依次读取全部数据
func (s *SSTReader) ReadData(index []*Index, compressed bool) ([]*KV, error) {
	var data []*KV
	for i := 1; i < len(index); i++ {
		kvs, err := s.ReadDataBlock(index[i].PrevBlockOffset, index[i].PrevBlockSize, compressed)
		if err != nil {
			return nil, err
		}
		data = append(data, kvs...)
	}
	return data, nil
}

// 读取一个数据块并解析. 压缩过的数据块先解压
func (s *SSTReader) ReadDataBlock(offset, size uint64, compressed bool) ([]*KV, error) {
	block, err := s.ReadRawDataBlock(offset, size, compressed)
	if err != nil {
		return nil, err
	}
	return decodeBlock(block)
}

// 读取一个数据块，返回解压后的原始记录
func (s *SSTReader) ReadRawDataBlock(offset, size uint64, compressed bool) ([]byte, error) {
	block, err := s.ReadBlock(offset, size)
	if err != nil || !compressed {
		return block, err
	}
	return snappy.Decode(nil, block)
}

func (s *SSTReader) ReadBlock(offset, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := s.src.ReadAt(buf, int64(offset))
	if errors.Is(err, io.EOF) && uint64(n) == size {
		err = nil
	}
	return buf, err
}
