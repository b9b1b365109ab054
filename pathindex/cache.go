package pathindex

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/gazette-labs/storekit/oid"
)

// pathCacheSize bounds the number of (CID, OID) resolutions an Index keeps
// warm. Long-name-encoded lookups scan disambiguation indices comparing
// xattrs one at a time; caching the resolved path avoids repeating that
// scan for objects read or written repeatedly in a hot loop.
const pathCacheSize = 4096

// pathCache memoizes (CID, OID) -> resolved path, refreshed on Create and
// invalidated on Unlink. Grounded on the teacher's broker/client.RouteCache: a small,
// fixed-size LRU guarding a lookup that's cheap to recompute but not free.
type pathCache struct {
	cache *lru.Cache
}

func newPathCache() *pathCache {
	var c, err = lru.New(pathCacheSize)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &pathCache{cache: c}
}

type cacheKey struct {
	cid oid.CID
	oid oid.OID
}

func (pc *pathCache) get(cid oid.CID, o oid.OID) (string, bool) {
	if v, ok := pc.cache.Get(cacheKey{cid, o}); ok {
		return v.(string), true
	}
	return "", false
}

func (pc *pathCache) put(cid oid.CID, o oid.OID, path string) {
	pc.cache.Add(cacheKey{cid, o}, path)
}

func (pc *pathCache) evict(cid oid.CID, o oid.OID) {
	pc.cache.Remove(cacheKey{cid, o})
}
