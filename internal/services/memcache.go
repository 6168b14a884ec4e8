// Package services holds the locally implemented API services dispatched
// through the proxy.
package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
	"github.com/devserver-emu/devserver/internal/apiproxy"
	"github.com/devserver-emu/devserver/internal/cache"
	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/latency"
	"github.com/devserver-emu/devserver/utils"
)

// Application error codes of the memcache service.
const (
	memcacheErrInvalidRequest = 1
	memcacheErrNotFound       = 2
	memcacheErrNotNumeric     = 3
)

// Memcache is a size-bounded in-memory rendition of the memcache API.
type Memcache struct {
	store  *cache.Cache
	hits   int64
	misses int64
}

// NewMemcache sizes the backing cache from configuration.
func NewMemcache() *Memcache {
	size := config.GetInt(config.MEMCACHE_SIZE, 1000)
	expiration := time.Duration(config.GetInt(config.MEMCACHE_ITEM_EXPIRATION, 0)) * time.Second
	cleanup := time.Duration(config.GetInt(config.MEMCACHE_CLEANUP, 60)) * time.Second
	return &Memcache{store: cache.New(expiration, cleanup, size)}
}

func (m *Memcache) Package() string { return "memcache" }

func (m *Memcache) Methods() map[string]apiproxy.MethodFunc {
	return map[string]apiproxy.MethodFunc{
		"Get":      m.get,
		"Set":      m.set,
		"Delete":   m.delete,
		"Incr":     m.incr,
		"FlushAll": m.flushAll,
		"Stats":    m.stats,
	}
}

func (m *Memcache) DefaultDeadline() float64 { return 1.0 }
func (m *Memcache) MaximumDeadline() float64 { return 10.0 }

// LatencyProfiles returns production-like percentiles, service-wide.
func (m *Memcache) LatencyProfiles() map[string]latency.Percentiles {
	return map[string]latency.Percentiles{
		"": {
			P50: 1 * time.Millisecond,
			P90: 3 * time.Millisecond,
			P99: 10 * time.Millisecond,
		},
	}
}

func requestKey(request []byte) (string, error) {
	key, err := jsonparser.GetString(request, "key")
	if err != nil || key == "" {
		return "", &apiproxy.ApplicationError{
			Code:   memcacheErrInvalidRequest,
			Detail: "missing key",
		}
	}
	return key, nil
}

func (m *Memcache) get(_ *apiproxy.Environment, request []byte) ([]byte, error) {
	key, err := requestKey(request)
	if err != nil {
		return nil, err
	}
	value, found := m.store.Get(key)
	if !found {
		atomic.AddInt64(&m.misses, 1)
		return json.Marshal(map[string]interface{}{"found": false})
	}
	atomic.AddInt64(&m.hits, 1)
	return json.Marshal(map[string]interface{}{"found": true, "value": value})
}

func (m *Memcache) set(_ *apiproxy.Environment, request []byte) ([]byte, error) {
	key, err := requestKey(request)
	if err != nil {
		return nil, err
	}
	value, err := utils.JsonExtract(request, "value")
	if err != nil {
		return nil, &apiproxy.ApplicationError{
			Code:   memcacheErrInvalidRequest,
			Detail: "missing value",
		}
	}
	expiration := cache.DefaultExpiration
	if secs := utils.JsonExtractIntOrDefault(request, "expiration", 0); secs > 0 {
		expiration = time.Duration(secs) * time.Second
	}
	m.store.Set(key, value, expiration)
	return json.Marshal(map[string]interface{}{"stored": true})
}

func (m *Memcache) delete(_ *apiproxy.Environment, request []byte) ([]byte, error) {
	key, err := requestKey(request)
	if err != nil {
		return nil, err
	}
	m.store.Delete(key)
	return json.Marshal(map[string]interface{}{"deleted": true})
}

// incr atomizes read-modify-write only per call, not across callers; the
// production service is stricter, which is acceptable for local emulation.
func (m *Memcache) incr(_ *apiproxy.Environment, request []byte) ([]byte, error) {
	key, err := requestKey(request)
	if err != nil {
		return nil, err
	}
	delta := int64(utils.JsonExtractIntOrDefault(request, "delta", 1))

	current, found := m.store.Get(key)
	if !found {
		return nil, &apiproxy.ApplicationError{
			Code:   memcacheErrNotFound,
			Detail: fmt.Sprintf("key not found: %s", key),
		}
	}
	n, err := strconv.ParseInt(fmt.Sprintf("%v", current), 10, 64)
	if err != nil {
		return nil, &apiproxy.ApplicationError{
			Code:   memcacheErrNotNumeric,
			Detail: fmt.Sprintf("value of %s is not numeric", key),
		}
	}
	n += delta
	m.store.Set(key, strconv.FormatInt(n, 10), cache.DefaultExpiration)
	return json.Marshal(map[string]interface{}{"value": n})
}

func (m *Memcache) flushAll(_ *apiproxy.Environment, _ []byte) ([]byte, error) {
	m.store.Flush()
	return json.Marshal(map[string]interface{}{"flushed": true})
}

func (m *Memcache) stats(_ *apiproxy.Environment, _ []byte) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"hits":   atomic.LoadInt64(&m.hits),
		"misses": atomic.LoadInt64(&m.misses),
		"items":  m.store.Len(),
	})
}
