package query

import (
	"encoding/json"
	"hash/crc32"
	"strconv"
	"time"

	"github.com/corevault/kvengine/cache"
)

// resultCache wraps the cache package's LRU+TTL cache with the
// plan-hashing contract of spec §4.7: capacity 100, TTL 5 minutes,
// keyed by a 32-bit hash of the canonical JSON of the plan.
type resultCache struct {
	c *cache.Cache
}

func newResultCache() *resultCache {
	return &resultCache{c: cache.New(cache.Config{
		MaxSize: 100,
		TTL:     5 * time.Minute,
	})}
}

// defaultResultCache is shared by every Builder, the same way a single
// result-cache instance backs every query against one StorageManager
// in spec.md's model.
var defaultResultCache = newResultCache()

func planKey(plan Plan) string {
	b, err := json.Marshal(plan)
	if err != nil {
		return ""
	}
	sum := crc32.ChecksumIEEE(b)
	return strconv.FormatUint(uint64(sum), 16)
}

func (r *resultCache) get(plan Plan) (*Result, bool) {
	key := planKey(plan)
	if key == "" {
		return nil, false
	}
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false
	}
	res, ok := v.(*Result)
	return res, ok
}

func (r *resultCache) set(plan Plan, res *Result) {
	key := planKey(plan)
	if key == "" {
		return
	}
	r.c.Set(key, res)
}
