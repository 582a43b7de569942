package server

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// newFigureCache holds marshalled figures per year. Figures never change
// for a running process, so the TTL only bounds memory for stale entries.
func newFigureCache(ttl time.Duration) *cache.Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return cache.New(ttl, 2*ttl)
}

// GetCacheKey joins prefix and params with ":".
func GetCacheKey(prefix string, params ...interface{}) string {
	key := prefix
	for _, param := range params {
		key += ":" + fmt.Sprintf("%v", param)
	}
	return key
}
