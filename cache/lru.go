package cache

import (
	"container/list"
	"sync"
)

// 缓存的 key. 由 sstable 文件标识与 block 在文件中的偏移量组成
type BlockKey struct {
	File   string
	Offset uint64
}

type lruEntry struct {
	key   BlockKey
	value []byte
}

// block 级别的 LRU 缓存，容量以 byte 计. 并发安全
type LRU struct {
	mux         sync.Mutex
	ll          *list.List
	table       map[BlockKey]*list.Element
	capacity    int
	currentSize int

	hits, misses uint64
}

// 容量 <= 0 时缓存不生效，所有 Get 均未命中
func NewLRU(capacity int) *LRU {
	return &LRU{
		ll:       list.New(),
		table:    make(map[BlockKey]*list.Element),
		capacity: capacity,
	}
}

// 命中时将 entry 移动到链表头部
func (l *LRU) Get(key BlockKey) ([]byte, bool) {
	l.mux.Lock()
	defer l.mux.Unlock()

	elem, ok := l.table[key]
	if !ok {
		l.misses++
		return nil, false
	}
	l.hits++
	l.ll.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true
}

// 写入或者刷新 entry. 超出容量时自尾部开始淘汰，单个超过容量的 value 不会被缓存
func (l *LRU) Put(key BlockKey, value []byte) {
	if len(value) > l.capacity {
		return
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	if elem, ok := l.table[key]; ok {
		entry := elem.Value.(*lruEntry)
		l.currentSize += len(value) - len(entry.value)
		entry.value = value
		l.ll.MoveToFront(elem)
	} else {
		l.table[key] = l.ll.PushFront(&lruEntry{key: key, value: value})
		l.currentSize += len(value)
	}

	for l.currentSize > l.capacity {
		l.removeOldest()
	}
}

// 文件被删除后，清理其所有 block
func (l *LRU) EvictFile(file string) {
	l.mux.Lock()
	defer l.mux.Unlock()

	for key, elem := range l.table {
		if key.File != file {
			continue
		}
		l.ll.Remove(elem)
		delete(l.table, key)
		l.currentSize -= len(elem.Value.(*lruEntry).value)
	}
}

func (l *LRU) Size() int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.currentSize
}

func (l *LRU) Len() int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.ll.Len()
}

// 命中与未命中次数
func (l *LRU) Stats() (hits, misses uint64) {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.hits, l.misses
}

func (l *LRU) removeOldest() {
	elem := l.ll.Back()
	if elem == nil {
		return
	}
	l.ll.Remove(elem)
	entry := elem.Value.(*lruEntry)
	delete(l.table, entry.key)
	l.currentSize -= len(entry.value)
}
