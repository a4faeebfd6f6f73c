package notification

import (
	"container/list"
	"sync"
	"time"
)

// BucketLimiter counts events per key in a sliding window split into fixed
// buckets. Every key costs the same fixed amount of memory and the number of
// keys is bounded; the least recently used key is evicted first.
type BucketLimiter struct {
	mu      sync.Mutex
	limit   int
	width   time.Duration
	buckets int
	maxKeys int
	entries map[string]*list.Element
	lru     *list.List
}

type bucketEntry struct {
	key    string
	counts []int
	epochs []int64
}

// NewBucketLimiter allows limit events per window and tracks at most maxKeys keys.
func NewBucketLimiter(limit int, window time.Duration, buckets, maxKeys int) *BucketLimiter {
	if buckets < 1 {
		buckets = 1
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Millisecond
	}
	if maxKeys < 1 {
		maxKeys = 1
	}
	return &BucketLimiter{
		limit:   limit,
		width:   width,
		buckets: buckets,
		maxKeys: maxKeys,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Allow records an event for key at now and reports whether it is within
// the limit. Rejected events are not counted.
func (l *BucketLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entry(key)
	epoch := now.UnixNano() / int64(l.width)
	slot := int(epoch % int64(l.buckets))
	if entry.epochs[slot] != epoch {
		entry.epochs[slot] = epoch
		entry.counts[slot] = 0
	}

	total := 0
	for i := range entry.counts {
		if entry.epochs[i] > epoch-int64(l.buckets) {
			total += entry.counts[i]
		}
	}
	if total >= l.limit {
		return false
	}
	entry.counts[slot]++
	return true
}

func (l *BucketLimiter) entry(key string) *bucketEntry {
	if el, ok := l.entries[key]; ok {
		l.lru.MoveToFront(el)
		return el.Value.(*bucketEntry)
	}
	if l.lru.Len() >= l.maxKeys {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		delete(l.entries, oldest.Value.(*bucketEntry).key)
	}
	entry := &bucketEntry{
		key:    key,
		counts: make([]int, l.buckets),
		epochs: make([]int64, l.buckets),
	}
	for i := range entry.epochs {
		entry.epochs[i] = -1
	}
	l.entries[key] = l.lru.PushFront(entry)
	return entry
}

// Len returns the number of tracked keys.
func (l *BucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}
