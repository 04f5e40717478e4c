package wal

import (
	"encoding/binary"
	"hash/crc32"
	"os"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// 预写日志写入口. 每条记录格式：crc32 | key 长度 | val 长度 | key | val，crc32 覆盖 crc 之后的全部内容
type WALWriter struct {
	file         string   // 预写日志文件名，是包含了目录在内的绝对路径
	dest         *os.File // 预写日志文件
	assistBuffer [30]byte // 辅助转移数据使用的临时缓冲区
	buf          []byte   // 复用的记录缓冲区
}

// 打开 wal 文件，如果文件不存在则进行创建. 已有文件以追加方式写入
func NewWALWriter(file string) (*WALWriter, error) {
	dest, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &WALWriter{
		file: file,
		dest: dest,
	}, nil
}

// 写入一笔 kv 对到 wal 文件中
func (w *WALWriter) Write(key, value []byte) error {
	n := binary.PutUvarint(w.assistBuffer[0:], uint64(len(key)))
	n += binary.PutUvarint(w.assistBuffer[n:], uint64(len(value)))

	// 预留 4 byte 的 crc，依次填充 key 长度、val 长度、key、val
	w.buf = append(w.buf[:0], 0, 0, 0, 0)
	w.buf = append(w.buf, w.assistBuffer[:n]...)
	w.buf = append(w.buf, key...)
	w.buf = append(w.buf, value...)
	binary.LittleEndian.PutUint32(w.buf, crc32.Checksum(w.buf[4:], crcTable))

	_, err := w.dest.Write(w.buf)
	return err
}

func (w *WALWriter) File() string {
	return w.file
}

func (w *WALWriter) Close() error {
	return w.dest.Close()
}
