/*
 * Copyright 2022 RapidLoop, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Response caching is a domain supplement (see SPEC_FULL.md): spec.md §5
// states plainly that "no per-request cache is shared across requests" for
// the core dispatch loop, so this is kept as a distinct, explicitly
// opt-in, cross-request layer that never substitutes for per-request state.
package gatejson

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ResponseCache is a TTL cache for read-only Sql actions (Item, ItemOk,
// Collection), keyed by the template's source text (before rendering) plus
// the bound parameter bag, so distinct bindings never share an entry.
type ResponseCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[uint64]cacheEntry
}

type cacheEntry struct {
	body    any
	expires time.Time
}

// NewResponseCache builds a cache with the given TTL in seconds. A
// non-positive ttl disables caching (Get always misses, Set is a no-op).
func NewResponseCache(ttlSeconds float64) *ResponseCache {
	return &ResponseCache{ttl: time.Duration(ttlSeconds * float64(time.Second))}
}

func (c *ResponseCache) Enabled() bool { return c != nil && c.ttl > 0 }

// cacheKey hashes the template's source text together with the bound
// parameter bag, matching the teacher's makeCacheKey shape (xxhash over a
// canonical byte representation).
func cacheKey(source string, bag map[string]any) uint64 {
	h := xxhash.New()
	h.WriteString(source)
	h.Write([]byte{0})

	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteString(k)
		h.Write([]byte{'='})
		b, _ := json.Marshal(bag[k])
		h.Write(b)
		h.Write([]byte{';'})
	}
	return h.Sum64()
}

// Get returns a cached body for (source, bag), if present and unexpired.
func (c *ResponseCache) Get(source string, bag map[string]any) (any, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key := cacheKey(source, bag)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.body, true
}

// Set stores body under (source, bag) for the cache's configured TTL.
func (c *ResponseCache) Set(source string, bag map[string]any, body any) {
	if !c.Enabled() {
		return
	}
	key := cacheKey(source, bag)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[uint64]cacheEntry)
	}
	c.entries[key] = cacheEntry{body: body, expires: time.Now().Add(c.ttl)}
}
