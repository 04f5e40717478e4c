package wal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/xiaoxuxiansheng/golsm-filterbench/memtable"
)

type WALReader struct {
	file      string
	src       *os.File
	validSize int64 // 最近一次回放中完整记录占用的字节数
}

func NewWALReader(file string) (*WALReader, error) {
	src, err := os.OpenFile(file, os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &WALReader{
		file: file,
		src:  src,
	}, nil
}

// 将 wal 中的记录回放到 memtable 中，返回回放的记录数.
// 进程崩溃可能在文件尾部留下写了一半的记录，遇到第一条不完整或者校验失败的记录即停止回放，之后的内容被丢弃
func (w *WALReader) RestoreToMemtable(memTable memtable.MemTable) (int, error) {
	if _, err := w.src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	body, err := io.ReadAll(w.src)
	if err != nil {
		return 0, err
	}

	kvs, consumed := w.readAll(body)
	w.validSize = int64(consumed)
	for _, kv := range kvs {
		memTable.Put(kv.Key, kv.Value)
	}
	return len(kvs), nil
}

func (w *WALReader) readAll(body []byte) ([]*memtable.KV, int) {
	var (
		kvs      []*memtable.KV
		consumed int
	)
	for consumed < len(body) {
		kv, n, ok := readRecord(body[consumed:])
		if !ok {
			break
		}
		kvs = append(kvs, kv)
		consumed += n
	}
	return kvs, consumed
}

// 回放得到的有效长度. 继续追加写入前需要把文件截断到该长度，否则尾部残缺的记录会挡住新记录
func (w *WALReader) ValidSize() int64 {
	return w.validSize
}

// 解析一条记录，返回记录占用的字节数
func readRecord(body []byte) (*memtable.KV, int, bool) {
	if len(body) < 4 {
		return nil, 0, false
	}
	checksum := binary.LittleEndian.Uint32(body)

	reader := bytes.NewReader(body[4:])
	keyLen, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, 0, false
	}
	valLen, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, 0, false
	}

	header := len(body) - reader.Len()
	if keyLen > uint64(reader.Len()) || valLen > uint64(reader.Len())-keyLen {
		return nil, 0, false
	}
	end := header + int(keyLen) + int(valLen)
	if crc32.Checksum(body[4:end], crcTable) != checksum {
		return nil, 0, false
	}

	keyBuf := make([]byte, keyLen)
	copy(keyBuf, body[header:])
	valBuf := make([]byte, valLen)
	copy(valBuf, body[header+int(keyLen):end])
	return &memtable.KV{Key: keyBuf, Value: valBuf}, end, true
}

func (w *WALReader) Close() error {
	return w.src.Close()
}
