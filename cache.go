package quill

import (
	"encoding/binary"
	"io/fs"
	"time"

	"github.com/coocood/freecache"
)

// stampLen is the size of the file stamp stored in front of each entry.
const stampLen = 16

// PostCache keeps encoded post documents in memory, keyed by id. Each entry
// carries the size and modification time of the file it was read from, and
// a lookup only hits when the file on disk still matches. A nil *PostCache
// is valid and caches nothing.
type PostCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewPostCache creates a cache of sizeMB megabytes whose entries expire
// after ttl. It returns nil when sizeMB is not positive.
func NewPostCache(sizeMB int, ttl time.Duration) *PostCache {
	if sizeMB <= 0 {
		return nil
	}
	return &PostCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   int(ttl.Seconds()),
	}
}

func fileStamp(info fs.FileInfo) []byte {
	b := make([]byte, stampLen)
	binary.BigEndian.PutUint64(b[:8], uint64(info.Size()))
	binary.BigEndian.PutUint64(b[8:], uint64(info.ModTime().UnixNano()))
	return b
}

// Get returns the cached document for id if it was stored for a file that
// still has info's size and modification time. A mismatched entry is dropped.
func (c *PostCache) Get(id string, info fs.FileInfo) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.cache.Get([]byte(id))
	if err != nil {
		return nil, false
	}
	if len(val) < stampLen || string(val[:stampLen]) != string(fileStamp(info)) {
		c.cache.Del([]byte(id))
		return nil, false
	}
	return val[stampLen:], true
}

// Set stores data for id as read from the file described by info. Entries
// too large for the cache are skipped.
func (c *PostCache) Set(id string, info fs.FileInfo, data []byte) {
	if c == nil {
		return
	}
	val := make([]byte, 0, stampLen+len(data))
	val = append(val, fileStamp(info)...)
	val = append(val, data...)
	_ = c.cache.Set([]byte(id), val, c.ttl)
}

// Invalidate drops id so the next read goes to disk.
func (c *PostCache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.cache.Del([]byte(id))
}

// Stats returns lifetime hit and miss counts.
func (c *PostCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.cache.HitCount(), c.cache.MissCount()
}
