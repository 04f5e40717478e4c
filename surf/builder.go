package surf

import (
	"bytes"
)

// 构造阶段使用的指针形式字典树节点
type buildNode struct {
	labels   []byte
	children []*buildNode // 与 labels 一一对应，叶子边为 nil
	leafKeys []int        // 与 labels 一一对应，叶子边对应的 key 下标，非叶子边为 -1
	prefix   int          // 恰好终止于本节点的 key 下标（前缀 key），-1 表示没有
}

func newBuildNode(prefix int) *buildNode {
	return &buildNode{prefix: prefix}
}

// 根据有序的 key 集合构造 SuRF. keys 由调用方保证按字节序非递减，重复 key 会被去重
func New(keys [][]byte, opts Options) *SuRF {
	opts = opts.normalize()
	s := SuRF{opts: opts}

	uniq := dedupe(keys)
	root := newBuildNode(-1)
	for i, key := range uniq {
		// 空 key 单独记录，不占用树结构
		if len(key) == 0 {
			s.emptyKey = true
			continue
		}
		insertKey(root, uniq, i, distinguishLen(uniq, i))
	}

	levels := collectLevels(root)
	s.height = uint32(len(levels))
	s.cutoff = determineCutoff(levels, opts)
	s.encode(levels, uniq)
	s.finish()
	return &s
}

func dedupe(keys [][]byte) [][]byte {
	uniq := make([][]byte, 0, len(keys))
	for _, key := range keys {
		if len(uniq) > 0 && bytes.Equal(uniq[len(uniq)-1], key) {
			continue
		}
		uniq = append(uniq, key)
	}
	return uniq
}

// 区分 keys[i] 与相邻 key 所需的最短前缀长度
func distinguishLen(keys [][]byte, i int) int {
	var lcp int
	if i > 0 {
		lcp = sharedPrefixLen(keys[i-1], keys[i])
	}
	if i+1 < len(keys) {
		lcp = max(lcp, sharedPrefixLen(keys[i], keys[i+1]))
	}
	return min(len(keys[i]), lcp+1)
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// 将 keys[i] 的前 l 个字节插入字典树. key 按序到来，因此只可能与每个节点的最后一条边重合
func insertKey(root *buildNode, keys [][]byte, i, l int) {
	node, key := root, keys[i]
	for d := 0; d < l; d++ {
		b := key[d]
		last := len(node.labels) - 1
		if last >= 0 && node.labels[last] == b {
			// 前一个 key 以这条边作为叶子终止，它必然是当前 key 的前缀，下沉为子节点的前缀 key
			if node.children[last] == nil {
				node.children[last] = newBuildNode(node.leafKeys[last])
				node.leafKeys[last] = -1
			}
			node = node.children[last]
			continue
		}

		if d == l-1 {
			node.labels = append(node.labels, b)
			node.children = append(node.children, nil)
			node.leafKeys = append(node.leafKeys, i)
			return
		}

		child := newBuildNode(-1)
		node.labels = append(node.labels, b)
		node.children = append(node.children, child)
		node.leafKeys = append(node.leafKeys, -1)
		node = child
	}
	node.prefix = i
}

// 按层序展开
func collectLevels(root *buildNode) [][]*buildNode {
	if len(root.labels) == 0 {
		return nil
	}
	var levels [][]*buildNode
	for cur := []*buildNode{root}; len(cur) > 0; {
		levels = append(levels, cur)
		var next []*buildNode
		for _, node := range cur {
			for _, child := range node.children {
				if child != nil {
					next = append(next, child)
				}
			}
		}
		cur = next
	}
	return levels
}

// 每个 dense 节点占用 256 bit label + 256 bit child + 1 bit prefix
const denseNodeBits = 2*256 + 1

// 每个 sparse label 占用 8 bit label + 1 bit child + 1 bit louds
const sparseLabelBits = 8 + 1 + 1

// 从根开始逐层切换为 dense 编码，直到 dense 部分空间乘以 ratio 不再小于 sparse 部分
func determineCutoff(levels [][]*buildNode, opts Options) uint32 {
	if !opts.IncludeDense {
		return 0
	}

	var cutoff int
	for cutoff < len(levels) {
		var denseBits, sparseBits uint64
		for l, nodes := range levels {
			if l < cutoff {
				denseBits += uint64(len(nodes)) * denseNodeBits
				continue
			}
			for _, node := range nodes {
				sparseBits += uint64(len(node.labels))*sparseLabelBits + 1
			}
		}
		if denseBits*uint64(opts.SparseDenseRatio) >= sparseBits {
			break
		}
		cutoff++
	}
	return uint32(cutoff)
}

// 写入各个 bit 数组与后缀. 叶子编号按层序，节点内前缀 key 排在各条边之前
func (s *SuRF) encode(levels [][]*buildNode, keys [][]byte) {
	var sparseLabelCnt uint32
	for l, nodes := range levels {
		if uint32(l) < s.cutoff {
			s.denseNodes += uint32(len(nodes))
			continue
		}
		s.sparseNodes += uint32(len(nodes))
		for _, node := range nodes {
			sparseLabelCnt += uint32(len(node.labels))
		}
	}

	s.denseLabels = newBitVector(s.denseNodes * 256)
	s.denseChild = newBitVector(s.denseNodes * 256)
	s.densePrefix = newBitVector(s.denseNodes)
	if sparseLabelCnt > 0 {
		s.sparseLabels = make([]byte, 0, sparseLabelCnt)
	}
	s.sparseChild = newBitVector(sparseLabelCnt)
	s.sparseLouds = newBitVector(sparseLabelCnt)
	s.sparsePrefix = newBitVector(s.sparseNodes)

	var suffixes []uint64
	leaf := func(keyIdx, depth int) {
		suffixes = append(suffixes, suffixOf(s.opts.SuffixType, s.opts.SuffixLen, keys[keyIdx], depth))
	}

	var denseIdx, sparseIdx, pos uint32
	for l, nodes := range levels {
		for _, node := range nodes {
			if uint32(l) < s.cutoff {
				if node.prefix >= 0 {
					s.densePrefix.set(denseIdx)
					leaf(node.prefix, l)
				}
				for j, b := range node.labels {
					p := denseIdx*256 + uint32(b)
					s.denseLabels.set(p)
					if node.children[j] != nil {
						s.denseChild.set(p)
					} else {
						leaf(node.leafKeys[j], l+1)
					}
				}
				denseIdx++
				continue
			}

			if node.prefix >= 0 {
				s.sparsePrefix.set(sparseIdx)
				leaf(node.prefix, l)
			}
			for j, b := range node.labels {
				s.sparseLabels = append(s.sparseLabels, b)
				if j == 0 {
					s.sparseLouds.set(pos)
				}
				if node.children[j] != nil {
					s.sparseChild.set(pos)
				} else {
					leaf(node.leafKeys[j], l+1)
				}
				pos++
			}
			sparseIdx++
		}
	}

	s.suffixes = newSuffixVector(s.opts.SuffixLen, uint32(len(suffixes)))
	for i, v := range suffixes {
		s.suffixes.set(uint32(i), v)
	}
}
