package websocket

import (
	"hash/fnv"
	"sync"
)

// stripedLock serialises work per key without a map of locks that would
// grow with every conversation ever seen. Distinct keys may share a stripe.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n <= 0 {
		n = 1
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLock) For(key string) *sync.Mutex {
	return &s.stripes[shardFor(key, len(s.stripes))]
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
