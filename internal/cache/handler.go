package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// keyHeaders is the small fixed set of headers that participate in the cache
// key, beyond method/path/query.
var keyHeaders = []string{"Accept", "Accept-Language", "Accept-Encoding"}

// sensitiveHeaders disqualify a request from being cached at all, and are
// never used for reconstruction.
var sensitiveHeaders = []string{"Authorization", "Cookie", "X-Api-Key"}

var defaultCacheableMethods = map[string]bool{http.MethodGet: true, http.MethodHead: true}

var defaultCacheableStatus = map[int]bool{
	200: true, 201: true, 202: true, 203: true, 204: true, 205: true, 206: true,
	301: true, 302: true, 304: true,
}

// Handler implements the response cache's read/write/invalidate operations
// over a two-tier Store: primary is external (Redis-backed); fallback is an
// in-process MemoryStore engaged whenever the primary is disconnected. The
// two tiers are eventually consistent only with themselves — no
// cross-tier synchronization is attempted.
type Handler struct {
	primary  *RedisStore
	fallback *MemoryStore

	primaryDown atomic.Bool

	defaultTTL time.Duration
	pathTTLs   map[string]time.Duration

	invalidationMethods map[string][]string // pathPrefix -> methods whose success invalidates it

	pathIndexMu sync.Mutex
	pathIndex   map[string]map[string]struct{} // pathPrefix -> set of cache keys seen under it
}

// NewHandler builds a Handler. primary may be nil if no external store is
// configured, in which case the fallback tier is used unconditionally.
func NewHandler(primary *RedisStore, fallback *MemoryStore, defaultTTL time.Duration, pathTTLs map[string]time.Duration, invalidationMethods map[string][]string) *Handler {
	if fallback == nil {
		fallback = NewMemoryStore(10000, defaultTTL)
	}
	if invalidationMethods == nil {
		invalidationMethods = map[string][]string{"/": {"POST", "PUT", "PATCH", "DELETE"}}
	}
	return &Handler{
		primary:             primary,
		fallback:            fallback,
		defaultTTL:          defaultTTL,
		pathTTLs:            pathTTLs,
		invalidationMethods: invalidationMethods,
		pathIndex:           make(map[string]map[string]struct{}),
	}
}

// activeStore returns the tier currently in use. It is re-evaluated on every
// call (not cached beyond the atomic flag) because the primary's
// availability can change between requests.
func (h *Handler) activeStore() Store {
	if h.primary == nil || h.primaryDown.Load() {
		return h.fallback
	}
	return h.primary
}

// MarkPrimaryDown and MarkPrimaryUp let the orchestrator's connection
// monitor flip tiers without the handler polling Redis on every request.
func (h *Handler) MarkPrimaryDown() { h.primaryDown.Store(true) }
func (h *Handler) MarkPrimaryUp()   { h.primaryDown.Store(false) }

// BuildKey computes the deterministic cache key: a hash of method, canonical
// path, sorted query, and the fixed set of Accept* headers. Sorting the
// query ensures ?a=1&b=2 and ?b=2&a=1 share an entry.
func BuildKey(method, path string, query map[string][]string, header http.Header) string {
	h := sha256.New()
	io.WriteString(h, method)
	h.Write([]byte{':'})
	io.WriteString(h, path)
	h.Write([]byte{'?'})

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			h.Write([]byte{'&'})
		}
		vs := append([]string(nil), query[k]...)
		sort.Strings(vs)
		io.WriteString(h, k)
		h.Write([]byte{'='})
		io.WriteString(h, strings.Join(vs, ","))
	}
	h.Write([]byte{'|'})
	for _, hk := range keyHeaders {
		if v := header.Get(hk); v != "" {
			io.WriteString(h, hk)
			h.Write([]byte{'='})
			io.WriteString(h, v)
			h.Write([]byte{';'})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HasSensitiveHeader reports whether the request carries a header the
// cacheability rule excludes.
func HasSensitiveHeader(header http.Header) bool {
	for _, hk := range sensitiveHeaders {
		if header.Get(hk) != "" {
			return true
		}
	}
	return false
}

// ShouldCache decides whether an outbound response may be cached at all.
// All of: method is cacheable, status is cacheable, the request carried no
// sensitive header, and the response lacks a disqualifying Cache-Control
// directive.
func ShouldCache(method string, status int, reqHeader http.Header, respHeader http.Header) bool {
	if !defaultCacheableMethods[strings.ToUpper(method)] {
		return false
	}
	if !defaultCacheableStatus[status] {
		return false
	}
	if HasSensitiveHeader(reqHeader) {
		return false
	}
	cc := strings.ToLower(respHeader.Get("Cache-Control"))
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store") || strings.Contains(cc, "private") {
		return false
	}
	return true
}

// ResolveTTL applies the TTL precedence: Cache-Control max-age, then the
// per-path strategy, then the default.
func (h *Handler) ResolveTTL(path string, respHeader http.Header) time.Duration {
	if cc := respHeader.Get("Cache-Control"); cc != "" {
		for _, part := range strings.Split(cc, ",") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "max-age=") {
				if secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age=")); err == nil && secs >= 0 {
					return time.Duration(secs) * time.Second
				}
			}
		}
	}
	ttl, bestLen := h.defaultTTL, -1
	for prefix, d := range h.pathTTLs {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			ttl, bestLen = d, len(prefix)
		}
	}
	return ttl
}

// Get looks up key in the active tier and returns the reconstructable entry.
func (h *Handler) Get(key string) (*Entry, bool) {
	return h.activeStore().Get(key)
}

// Set stores entry under key with the resolved TTL, and records key under
// path's index so pattern invalidation can find it later.
func (h *Handler) Set(path, key string, entry *Entry, ttl time.Duration) {
	h.activeStore().Set(key, entry, ttl)
	h.indexPath(path, key)
}

// SetIfReconstructable implements the 304 design decision: a 304 with no
// prior stored representation for key is not cached; a 304 arriving while an
// entry already exists simply refreshes StoredAt/ExpiresAt from the existing
// body.
func (h *Handler) SetIfReconstructable(path, key string, status int, respHeader http.Header, body []byte, ttl time.Duration) {
	if status != 304 {
		h.Set(path, key, &Entry{StatusCode: status, Headers: ExtractPreserved(respHeader), Body: body, StoredAt: time.Now()}, ttl)
		return
	}
	existing, ok := h.Get(key)
	if !ok {
		return
	}
	existing.StoredAt = time.Now()
	if ttl > 0 {
		existing.ExpiresAt = time.Now().Add(ttl)
	}
	h.Set(path, key, existing, ttl)
}

func (h *Handler) indexPath(path, key string) {
	h.pathIndexMu.Lock()
	defer h.pathIndexMu.Unlock()
	set, ok := h.pathIndex[path]
	if !ok {
		set = make(map[string]struct{})
		h.pathIndex[path] = set
	}
	set[key] = struct{}{}
}

// InvalidatorMethods returns the methods whose requests against path
// invalidate entries under that path, taken from the longest matching
// configured prefix.
func (h *Handler) InvalidatorMethods(path string) []string {
	best := ""
	var methods []string
	for prefix, ms := range h.invalidationMethods {
		if strings.HasPrefix(path, prefix) && len(prefix) >= len(best) {
			best = prefix
			methods = ms
		}
	}
	return methods
}

// Invalidate removes every key indexed under path's prefix from the active
// tier (best-effort, run after the upstream response has been sent). Cache
// keys are content hashes, not paths, so the store can't delete-by-path
// itself; pathIndex is what maps a path prefix back to the keys stored
// under it.
func (h *Handler) Invalidate(path string) {
	store := h.activeStore()

	h.pathIndexMu.Lock()
	defer h.pathIndexMu.Unlock()
	for p, keys := range h.pathIndex {
		if strings.HasPrefix(p, path) || strings.HasPrefix(path, p) {
			for key := range keys {
				store.Delete(key)
			}
			delete(h.pathIndex, p)
		}
	}
}

// Flush removes every entry from the active tier.
func (h *Handler) Flush() {
	h.activeStore().Purge()
	h.pathIndexMu.Lock()
	h.pathIndex = make(map[string]map[string]struct{})
	h.pathIndexMu.Unlock()
}

// Stats reports the active tier's sizing.
func (h *Handler) Stats() StoreStats { return h.activeStore().Stats() }
