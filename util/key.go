package util

import "encoding/binary"

// key 固定为 8 byte 大端编码，字节序与数值序一致
const KeySize = 8

func EncodeKey(key uint64) []byte {
	buf := make([]byte, KeySize)
	binary.BigEndian.PutUint64(buf, key)
	return buf
}

// 解码 8 byte 大端 key. 长度不足时返回 false
func DecodeKey(raw []byte) (uint64, bool) {
	if len(raw) < KeySize {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}
