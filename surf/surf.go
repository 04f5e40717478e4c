// Package surf 实现 SuRF (Succinct Range Filter) 简洁字典树.
//
// 树的上层使用 dense 编码：每个节点 256 bit 的 label 位图与 child 位图，外加 1 bit 前缀标识；
// 下层使用 sparse 编码：逐个保存 label 字节，配合 child 位图与 LOUDS 位图界定节点边界.
// 每个 key 只保留能与相邻 key 区分开的最短前缀，叶子上可额外保留若干 bit 的 hash 或真实后缀，
// 以更多空间换取更低的误判率.
package surf

import (
	"bytes"
)

const defaultSparseDenseRatio = 16

type Options struct {
	SuffixType SuffixType
	// 每个 key 保留的后缀 bit 数，上限 64
	SuffixLen uint32
	// 为 false 时整棵树采用 sparse 编码
	IncludeDense bool
	// dense 与 sparse 部分的空间比例阈值，0 时取 16
	SparseDenseRatio uint32
}

func (o Options) normalize() Options {
	if o.SuffixLen > maxSuffixLen {
		o.SuffixLen = maxSuffixLen
	}
	if o.SuffixType != SuffixHash && o.SuffixType != SuffixReal {
		o.SuffixType = SuffixNone
	}
	if o.SuffixType == SuffixNone || o.SuffixLen == 0 {
		o.SuffixType, o.SuffixLen = SuffixNone, 0
	}
	if o.SparseDenseRatio == 0 {
		o.SparseDenseRatio = defaultSparseDenseRatio
	}
	return o
}

// 构造完成后只读，可以被多个 goroutine 并发查询
type SuRF struct {
	opts     Options
	emptyKey bool   // 是否包含空 key
	height   uint32 // 树的层数
	cutoff   uint32 // 第一个 sparse 层

	denseNodes  uint32
	denseLabels *bitVector
	denseChild  *bitVector
	densePrefix *bitVector

	sparseNodes  uint32
	sparseLabels []byte
	sparseChild  *bitVector
	sparseLouds  *bitVector
	sparsePrefix *bitVector

	suffixes *suffixVector

	// 以下由 finish 推导
	denseChildCnt uint32
	denseLeafCnt  uint32
}

func (s *SuRF) finish() {
	for _, bv := range []*bitVector{s.denseLabels, s.denseChild, s.densePrefix, s.sparseChild, s.sparseLouds, s.sparsePrefix} {
		bv.buildRank()
	}
	s.denseChildCnt = s.denseChild.ones()
	s.denseLeafCnt = s.densePrefix.ones() + s.denseLabels.ones() - s.denseChildCnt
}

func (s *SuRF) Options() Options {
	return s.opts
}

func (s *SuRF) Height() int {
	return int(s.height)
}

// 不带后缀时存在假阳性；key 一定不会被误判为不存在
func (s *SuRF) LookupKey(key []byte) bool {
	if len(key) == 0 {
		return s.emptyKey
	}
	if s.height == 0 {
		return false
	}

	node := uint32(0)
	for depth := 0; ; depth++ {
		if depth == len(key) {
			if !s.isPrefix(node) {
				return false
			}
			return s.checkSuffix(s.prefixLeaf(node), key, depth)
		}

		pos, ok := s.findLabel(node, key[depth])
		if !ok {
			return false
		}
		if !s.hasChild(node, pos) {
			return s.checkSuffix(s.labelLeaf(node, pos), key, depth+1)
		}
		node = s.child(node, pos)
	}
}

// 判断 [start, end) 区间内是否可能存在 key. 定位到第一个可能 >= start 的 key，再与 end 比较
func (s *SuRF) LookupRange(start, end []byte) bool {
	if bytes.Compare(start, end) >= 0 {
		return false
	}
	if len(start) == 0 && s.emptyKey {
		return true
	}
	if s.height == 0 {
		return false
	}
	path, ok := s.lowerBound(0, 0, start, nil)
	if !ok {
		return false
	}
	return bytes.Compare(path, end) < 0
}

// 在以 node 为根的子树中寻找第一个可能 >= key 的 key，返回其截断后的路径.
// path 为从根到 node 的路径，等于 key[:depth]
func (s *SuRF) lowerBound(node uint32, depth int, key, path []byte) ([]byte, bool) {
	// 子树内所有 key 都以 key 为前缀
	if depth == len(key) {
		return s.leftmost(node, path), true
	}

	// 节点上的前缀 key 比 key 短，一定更小，直接跳过
	b := key[depth]
	pos, label, ok := s.labelAtLeast(node, int(b))
	if !ok {
		return nil, false
	}
	if label == b {
		if s.hasChild(node, pos) {
			if found, ok := s.lowerBound(s.child(node, pos), depth+1, key, append(path, label)); ok {
				return found, true
			}
		} else if !s.leafLess(s.labelLeaf(node, pos), key, depth+1) {
			return append(path, label), true
		}
		if pos, label, ok = s.labelAtLeast(node, int(b)+1); !ok {
			return nil, false
		}
	}
	// label > b，整棵子树都大于 key
	return s.leftmostFrom(node, pos, label, path), true
}

func (s *SuRF) leftmost(node uint32, path []byte) []byte {
	if s.isPrefix(node) {
		return path
	}
	pos, label, _ := s.labelAtLeast(node, 0)
	return s.leftmostFrom(node, pos, label, path)
}

func (s *SuRF) leftmostFrom(node, pos uint32, label byte, path []byte) []byte {
	path = append(path, label)
	if !s.hasChild(node, pos) {
		return path
	}
	return s.leftmost(s.child(node, pos), path)
}

func (s *SuRF) checkSuffix(leaf uint32, key []byte, depth int) bool {
	if s.opts.SuffixType == SuffixNone {
		return true
	}
	return s.suffixes.get(leaf) == suffixOf(s.opts.SuffixType, s.opts.SuffixLen, key, depth)
}

// 只有真实后缀能判定叶子上的 key 严格小于查询 key
func (s *SuRF) leafLess(leaf uint32, key []byte, depth int) bool {
	if s.opts.SuffixType != SuffixReal {
		return false
	}
	return s.suffixes.get(leaf) < realSuffix(key, depth, s.opts.SuffixLen)
}

func (s *SuRF) isDense(node uint32) bool {
	return node < s.denseNodes
}

// sparse 节点 k 的 label 区间 [start, end)
func (s *SuRF) sparseRange(node uint32) (uint32, uint32) {
	k := node - s.denseNodes
	start := s.sparseLouds.selectOne(k)
	end := uint32(len(s.sparseLabels))
	if k+1 < s.sparseNodes {
		end = s.sparseLouds.selectOne(k + 1)
	}
	return start, end
}

// 节点内第一个 >= from 的 label. dense 节点返回全局 bit 位置，sparse 节点返回 label 下标
func (s *SuRF) labelAtLeast(node uint32, from int) (uint32, byte, bool) {
	if from > 0xff {
		return 0, 0, false
	}
	if s.isDense(node) {
		base := node * 256
		pos, ok := s.denseLabels.nextOne(base+uint32(from), base+256)
		if !ok {
			return 0, 0, false
		}
		return pos, byte(pos - base), true
	}

	start, end := s.sparseRange(node)
	for pos := start; pos < end; pos++ {
		if label := s.sparseLabels[pos]; int(label) >= from {
			return pos, label, true
		}
	}
	return 0, 0, false
}

func (s *SuRF) findLabel(node uint32, b byte) (uint32, bool) {
	pos, label, ok := s.labelAtLeast(node, int(b))
	return pos, ok && label == b
}

func (s *SuRF) hasChild(node, pos uint32) bool {
	if s.isDense(node) {
		return s.denseChild.get(pos)
	}
	return s.sparseChild.get(pos)
}

// 子节点编号即层序编号：前面所有指向子节点的边数 + 1（根节点为 0）
func (s *SuRF) child(node, pos uint32) uint32 {
	if s.isDense(node) {
		return s.denseChild.rank(pos + 1)
	}
	return s.denseChildCnt + s.sparseChild.rank(pos+1)
}

func (s *SuRF) isPrefix(node uint32) bool {
	if s.isDense(node) {
		return s.densePrefix.get(node)
	}
	return s.sparsePrefix.get(node - s.denseNodes)
}

// 叶子编号 = 之前所有节点的前缀 key 数 + 之前所有叶子边数
func (s *SuRF) prefixLeaf(node uint32) uint32 {
	if s.isDense(node) {
		base := node * 256
		return s.densePrefix.rank(node) + s.denseLabels.rank(base) - s.denseChild.rank(base)
	}
	k := node - s.denseNodes
	start, _ := s.sparseRange(node)
	return s.denseLeafCnt + s.sparsePrefix.rank(k) + start - s.sparseChild.rank(start)
}

func (s *SuRF) labelLeaf(node, pos uint32) uint32 {
	if s.isDense(node) {
		return s.densePrefix.rank(node+1) + s.denseLabels.rank(pos) - s.denseChild.rank(pos)
	}
	k := node - s.denseNodes
	return s.denseLeafCnt + s.sparsePrefix.rank(k+1) + pos - s.sparseChild.rank(pos)
}
