package golsm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/xiaoxuxiansheng/golsm-filterbench/util"
)

// 数据块. 每条记录格式：共享前缀长度 | 剩余 key 长度 | val 长度 | 剩余 key | val
type Block struct {
	buffer     [30]byte      // 临时缓冲区
	record     *bytes.Buffer // 记录缓冲区
	entriesCnt int           // kv 对数量
	prevKey    []byte        // 最晚一笔写入的数据的 key
}

func NewBlock() *Block {
	return &Block{
		record: bytes.NewBuffer([]byte{}),
	}
}

// 追加一组kv对到数据块中
func (b *Block) Append(key, value []byte) {
	defer func() {
		b.prevKey = append(b.prevKey[:0], key...)
		b.entriesCnt++
	}()

	// 共享前缀长度
	sharedPrefixLen := util.SharedPrefixLen(b.prevKey, key)

	n := binary.PutUvarint(b.buffer[0:], uint64(sharedPrefixLen))
	n += binary.PutUvarint(b.buffer[n:], uint64(len(key)-sharedPrefixLen))
	n += binary.PutUvarint(b.buffer[n:], uint64(len(value)))

	_, _ = b.record.Write(b.buffer[:n])
	b.record.Write(key[sharedPrefixLen:])
	b.record.Write(value)
}

func (b *Block) Size() int {
	return b.record.Len()
}

func (b *Block) EntriesCnt() int {
	return b.entriesCnt
}

// 把块中的数据溢写到 writer 中. compress 为 true 时以 snappy 格式写出
func (b *Block) FlushTo(dest io.Writer, compress bool) (uint64, error) {
	defer b.clear()
	data := b.ToBytes()
	if compress {
		data = snappy.Encode(nil, data)
	}
	n, err := dest.Write(data)
	return uint64(n), err
}

func (b *Block) ToBytes() []byte {
	return b.record.Bytes()
}

// 清理块中的数据
func (b *Block) clear() {
	b.entriesCnt = 0
	b.prevKey = b.prevKey[:0]
	b.record.Reset()
}

var errCorruptBlock = errors.New("corrupt block")

// 解析块中的全部记录
func decodeBlock(block []byte) ([]*KV, error) {
	var (
		prevKey []byte
		kvs     []*KV
	)
	buf := bytes.NewBuffer(block)
	for {
		key, value, err := readRecord(prevKey, buf)
		if errors.Is(err, io.EOF) {
			return kvs, nil
		}
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, &KV{Key: key, Value: value})
		prevKey = key
	}
}

// 读取一条记录，共享前缀从 prevKey 中补齐
func readRecord(prevKey []byte, buf *bytes.Buffer) (key, value []byte, err error) {
	sharedPrefixLen, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, nil, err
	}

	keyLen, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, nil, unexpectedEOF(err)
	}

	valLen, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, nil, unexpectedEOF(err)
	}

	if sharedPrefixLen > uint64(len(prevKey)) || keyLen > uint64(buf.Len()) || valLen > uint64(buf.Len())-keyLen {
		return nil, nil, fmt.Errorf("%w: record out of range", errCorruptBlock)
	}

	key = make([]byte, sharedPrefixLen+keyLen)
	copy(key, prevKey[:sharedPrefixLen])
	_, _ = buf.Read(key[sharedPrefixLen:])

	value = make([]byte, valLen)
	_, _ = buf.Read(value)
	return key, value, nil
}

// 记录读到一半遇到 EOF 说明数据被截断
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
