package memtable

import (
	"bytes"

	"github.com/google/btree"
)

const btreeDegree = 32

// 基于 google/btree 的有序表，未加锁，不保证并发安全
type BTree struct {
	tree       *btree.BTreeG[*KV]
	entriesCnt int
	size       int
}

func NewBTree() MemTable {
	return &BTree{
		tree: btree.NewG(btreeDegree, func(a, b *KV) bool {
			return bytes.Compare(a.Key, b.Key) < 0
		}),
	}
}

func (b *BTree) Put(key, value []byte) {
	old, replaced := b.tree.ReplaceOrInsert(&KV{Key: key, Value: value})
	if replaced {
		b.size += len(value) - len(old.Value)
		return
	}
	b.size += len(key) + len(value)
	b.entriesCnt++
}

func (b *BTree) Get(key []byte) ([]byte, bool) {
	kv, ok := b.tree.Get(&KV{Key: key})
	if !ok {
		return nil, false
	}
	return kv.Value, true
}

func (b *BTree) All() []*KV {
	if b.entriesCnt == 0 {
		return nil
	}
	kvs := make([]*KV, 0, b.entriesCnt)
	b.tree.Ascend(func(kv *KV) bool {
		kvs = append(kvs, &KV{Key: kv.Key, Value: kv.Value})
		return true
	})
	return kvs
}

func (b *BTree) Size() int {
	return b.size
}

func (b *BTree) EntriesCnt() int {
	return b.entriesCnt
}
