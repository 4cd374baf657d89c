package tools

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// resultCache is an in-process LRU with TTL for successful tool payloads.
type resultCache struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type lruEntry struct {
	key       string
	payload   string
	truncated bool
	exp       time.Time
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &resultCache{cap: capacity, ttl: ttl, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (c *resultCache) Get(key string) (lruEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ent := el.Value.(lruEntry)
		if ent.exp.After(time.Now()) {
			c.list.MoveToFront(el)
			return ent, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	return lruEntry{}, false
}

func (c *resultCache) Set(key, payload string, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent := lruEntry{key: key, payload: payload, truncated: truncated, exp: time.Now().Add(c.ttl)}
	if el, ok := c.m[key]; ok {
		el.Value = ent
		c.list.MoveToFront(el)
		return
	}
	c.m[key] = c.list.PushFront(ent)
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			delete(c.m, lru.Value.(lruEntry).key)
			c.list.Remove(lru)
		}
	}
}

func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// cacheKey hashes the tool name with canonical JSON arguments (map keys sort).
func cacheKey(tool string, args map[string]interface{}) (string, bool) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	h := md5.Sum(append([]byte(tool+"|"), b...))
	return tool + ":" + hex.EncodeToString(h[:]), true
}
