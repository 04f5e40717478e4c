package surf

import (
	"encoding/binary"
	"errors"
	"math"
)

var ErrCorruptFilter = errors.New("surf: corrupt filter data")

const (
	serialMagic   byte = 'S'
	serialVersion byte = 1
)

const (
	flagIncludeDense byte = 1 << iota
	flagEmptyKey
)

// 编码格式：
// magic | version | suffixType | suffixLen | flags | ratio | height | cutoff | denseNodes | sparseNodes |
// denseLabels | denseChild | densePrefix | sparseLabels | sparseChild | sparseLouds | sparsePrefix | suffixes
func (s *SuRF) Serialize() []byte {
	var flags byte
	if s.opts.IncludeDense {
		flags |= flagIncludeDense
	}
	if s.emptyKey {
		flags |= flagEmptyKey
	}

	buf := []byte{serialMagic, serialVersion, byte(s.opts.SuffixType)}
	buf = binary.AppendUvarint(buf, uint64(s.opts.SuffixLen))
	buf = append(buf, flags)
	for _, v := range []uint32{s.opts.SparseDenseRatio, s.height, s.cutoff, s.denseNodes, s.sparseNodes} {
		buf = binary.AppendUvarint(buf, uint64(v))
	}

	buf = s.denseLabels.appendTo(buf)
	buf = s.denseChild.appendTo(buf)
	buf = s.densePrefix.appendTo(buf)
	buf = binary.AppendUvarint(buf, uint64(len(s.sparseLabels)))
	buf = append(buf, s.sparseLabels...)
	buf = s.sparseChild.appendTo(buf)
	buf = s.sparseLouds.appendTo(buf)
	buf = s.sparsePrefix.appendTo(buf)
	return s.suffixes.appendTo(buf)
}

// 还原 Serialize 的结果. 数据不完整或者结构不自洽时返回 ErrCorruptFilter
func Deserialize(data []byte) (*SuRF, error) {
	d := decoder{buf: data}
	if d.readByte() != serialMagic || d.readByte() != serialVersion {
		return nil, ErrCorruptFilter
	}

	var s SuRF
	s.opts.SuffixType = SuffixType(d.readByte())
	s.opts.SuffixLen = d.readUint32()
	flags := d.readByte()
	s.opts.IncludeDense = flags&flagIncludeDense != 0
	s.emptyKey = flags&flagEmptyKey != 0
	s.opts.SparseDenseRatio = d.readUint32()
	s.height = d.readUint32()
	s.cutoff = d.readUint32()
	s.denseNodes = d.readUint32()
	s.sparseNodes = d.readUint32()

	s.denseLabels = d.readBitVector()
	s.denseChild = d.readBitVector()
	s.densePrefix = d.readBitVector()
	s.sparseLabels = d.readBytes(int(d.readUint32()))
	s.sparseChild = d.readBitVector()
	s.sparseLouds = d.readBitVector()
	s.sparsePrefix = d.readBitVector()
	s.suffixes = d.readSuffixVector()
	if d.err != nil {
		return nil, d.err
	}
	if !s.consistent() {
		return nil, ErrCorruptFilter
	}

	s.finish()
	if s.sparseLouds.ones() != s.sparseNodes || s.suffixes.count != s.denseLeafCnt+s.sparseLeafCnt() {
		return nil, ErrCorruptFilter
	}
	// 除根节点外，每个节点恰好被一条边指向
	if nodes := s.denseNodes + s.sparseNodes; nodes > 0 && s.denseChildCnt+s.sparseChild.ones() != nodes-1 {
		return nil, ErrCorruptFilter
	}
	return &s, nil
}

func (s *SuRF) consistent() bool {
	if s.opts != s.opts.normalize() {
		return false
	}
	if (s.height == 0) != (s.denseNodes+s.sparseNodes == 0) {
		return false
	}
	sparseLen := uint32(len(s.sparseLabels))
	return s.cutoff <= s.height &&
		uint64(s.denseNodes)*256 <= math.MaxUint32 &&
		s.denseLabels.numBits == s.denseNodes*256 &&
		s.denseChild.numBits == s.denseNodes*256 &&
		s.densePrefix.numBits == s.denseNodes &&
		s.sparseChild.numBits == sparseLen &&
		s.sparseLouds.numBits == sparseLen &&
		s.sparsePrefix.numBits == s.sparseNodes &&
		s.suffixes.width == s.opts.SuffixLen
}

func (s *SuRF) sparseLeafCnt() uint32 {
	return s.sparsePrefix.ones() + uint32(len(s.sparseLabels)) - s.sparseChild.ones()
}

// 顺序读取器，出错后所有读取返回零值，错误在最后统一检查
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail() {
	d.err = ErrCorruptFilter
	d.buf = nil
}

func (d *decoder) readByte() byte {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 1 {
		d.fail()
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *decoder) readUint32() uint32 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 || v > math.MaxUint32 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return uint32(v)
}

func (d *decoder) readBytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.buf) {
		d.fail()
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf)
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) readWords(n uint64) []uint64 {
	if d.err != nil {
		return nil
	}
	// 先校验长度再分配，避免损坏的数据触发超大内存分配
	if n > uint64(len(d.buf))/8 {
		d.fail()
		return nil
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(d.buf[i*8:])
	}
	d.buf = d.buf[n*8:]
	return words
}

func (d *decoder) readBitVector() *bitVector {
	numBits := d.readUint32()
	bv := newBitVector(0)
	bv.numBits = numBits
	if words := d.readWords((uint64(numBits) + 63) / 64); d.err == nil {
		bv.words = words
	}
	return bv
}

func (d *decoder) readSuffixVector() *suffixVector {
	width := d.readUint32()
	count := d.readUint32()
	sv := newSuffixVector(0, 0)
	sv.width, sv.count = width, count
	if width > maxSuffixLen {
		d.fail()
		return sv
	}
	if words := d.readWords((uint64(width)*uint64(count) + 63) / 64); d.err == nil {
		sv.words = words
	}
	return sv
}
