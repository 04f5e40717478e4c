package memtable

import (
	"bytes"
	"math/rand/v2"
)

// 跳表最大高度
const maxHeight = 24

// 跳表，未加锁，不保证并发安全
type Skiplist struct {
	head       *skipNode  // 跳表的头结点
	entriesCnt int        // 跳表中的 kv 对个数
	size       int        // 跳表数据量大小，单位 byte
	rander     *rand.Rand // 节点高度随机数生成器
}

// 跳表节点
type skipNode struct {
	nexts      []*skipNode // 通过 next slice 来实现跳表节点多层指针结构
	key, value []byte      // 节点内存储的 kv 对数据
}

// 构造跳表实例
func NewSkiplist() MemTable {
	return &Skiplist{
		head:   &skipNode{}, // 需要初始化根节点
		rander: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// 写入一笔 kv 对到跳表. 如果 key 不存在，则为插入操作；如果 key 已存在则为覆盖操作
func (s *Skiplist) Put(key, value []byte) {
	// 倘若 key 已存在，根据新老 value 差值调整 size 后覆盖之
	if node := s.getNode(key); node != nil {
		s.size += len(value) - len(node.value)
		node.value = value
		return
	}

	s.size += len(key) + len(value)
	s.entriesCnt++
	height := s.roll()

	// 倘若跳表原高度不足，则补齐高度
	if len(s.head.nexts) < height {
		s.head.nexts = append(s.head.nexts, make([]*skipNode, height-len(s.head.nexts))...)
	}

	newNode := skipNode{
		nexts: make([]*skipNode, height),
		key:   key,
		value: value,
	}

	// 层数自高向低，每层按序插入节点
	move := s.head
	for level := height - 1; level >= 0; level-- {
		for move.nexts[level] != nil && bytes.Compare(move.nexts[level].key, key) < 0 {
			move = move.nexts[level]
		}
		newNode.nexts[level] = move.nexts[level]
		move.nexts[level] = &newNode
	}
}

func (s *Skiplist) Get(key []byte) ([]byte, bool) {
	if node := s.getNode(key); node != nil {
		return node.value, true
	}
	return nil, false
}

// 从第 0 层开始自左向右依次遍历读取
func (s *Skiplist) All() []*KV {
	if len(s.head.nexts) == 0 {
		return nil
	}

	kvs := make([]*KV, 0, s.entriesCnt)
	for move := s.head.nexts[0]; move != nil; move = move.nexts[0] {
		kvs = append(kvs, &KV{
			Key:   move.key,
			Value: move.value,
		})
	}
	return kvs
}

func (s *Skiplist) Size() int {
	return s.size
}

func (s *Skiplist) EntriesCnt() int {
	return s.entriesCnt
}

// 根据 key 获取跳表中对应节点
func (s *Skiplist) getNode(key []byte) *skipNode {
	move := s.head
	// 层数自高向低，逐层检索
	for level := len(s.head.nexts) - 1; level >= 0; level-- {
		// 持续向右移动，直到右侧为空或者右侧节点 key >= 检索 key
		for move.nexts[level] != nil && bytes.Compare(move.nexts[level].key, key) < 0 {
			move = move.nexts[level]
		}
		if move.nexts[level] != nil && bytes.Equal(move.nexts[level].key, key) {
			return move.nexts[level]
		}
	}
	return nil
}

// roll 出一个节点的高度. 最小为 1，每提高 1 层，概率减少为 1/2
func (s *Skiplist) roll() int {
	height := 1
	for height < maxHeight && s.rander.IntN(2) == 1 {
		height++
	}
	return height
}
