// Package cache implements the resolver's thread-safe, TTL-aware record
// cache. It keys on (name, type, class), stores absolute expiry deadlines in
// memory, and persists remaining-TTL snapshots to disk across restarts.
//
// The eviction strategy builds on the teacher's container/list LRU
// (cache/cache.go in classmarkets-go-dns-resolver) and adds it on top of
// plain TTL expiration: a record can leave the cache either because its
// deadline passed or because the cache is full and it was the least
// recently looked up.
package cache

import (
	"bufio"
	"container/list"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/dnslab/rdns/internal/log"
)

// DefaultMaxEntries bounds the cache the same way the teacher's resolver
// cache does (maxCacheSize in classmarkets-go-dns-resolver/resolver.go).
const DefaultMaxEntries = 10_000

// cleanupInterval is the amortized cleanup threshold: lookup only triggers a
// sweep if the last one was over an hour ago.
const cleanupInterval = time.Hour

type lookupKey struct {
	name  string
	rtype uint16
	class uint16
}

type entry struct {
	rr       dns.RR
	deadline int64 // absolute unix seconds
	elem     *list.Element
}

type lruRef struct {
	key lookupKey
	id  string
}

// Cache is a thread-safe mapping from (name, type, class) to a set of
// resource records, each with its own expiry deadline.
type Cache struct {
	mu          sync.Mutex
	records     map[lookupKey]map[string]*entry
	lru         *list.List // list of lruRef, back = most recently used
	count       int
	maxEntries  int
	overrideTTL time.Duration
	lastCleanup int64
	now         func() time.Time
}

// New returns an empty Cache bounded at maxEntries records. If maxEntries is
// <= 0, DefaultMaxEntries is used. If overrideTTL > 0, it is substituted for
// every record's advertised TTL at insert time (the server's -t flag).
func New(maxEntries int, overrideTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		records:     map[lookupKey]map[string]*entry{},
		lru:         list.New(),
		maxEntries:  maxEntries,
		overrideTTL: overrideTTL,
		lastCleanup: time.Now().Unix(),
		now:         time.Now,
	}
}

// Lookup returns every non-expired record matching (name, rrtype, class).
// Returned records carry ttl = deadline - now, clamped to a minimum of one
// second per spec invariant 1. It may opportunistically run Cleanup if the
// last cleanup was more than an hour ago.
func (c *Cache) Lookup(name string, rrtype, class uint16) []dns.RR {
	name = dns.CanonicalName(name)

	c.mu.Lock()
	if c.now().Unix()-c.lastCleanup >= int64(cleanupInterval.Seconds()) {
		c.cleanupLocked()
	}

	key := lookupKey{name: name, rtype: rrtype, class: class}
	submap := c.records[key]
	if len(submap) == 0 {
		c.mu.Unlock()
		return nil
	}

	now := c.now().Unix()
	out := make([]dns.RR, 0, len(submap))
	for _, e := range submap {
		if e.deadline <= now {
			continue
		}
		c.lru.MoveToBack(e.elem)

		rr := dns.Copy(e.rr)
		ttl := e.deadline - now
		if ttl < 1 {
			ttl = 1
		}
		rr.Header().Ttl = uint32(ttl)
		out = append(out, rr)
	}
	c.mu.Unlock()

	return out
}

// Add inserts rr if no entry with the same identity (name, type, class,
// rdata) exists. If one does exist, the later of the two absolute deadlines
// wins. The deadline is computed from the cache's override TTL if
// configured, otherwise from rr's own TTL.
func (c *Cache) Add(rr dns.RR) {
	hdr := rr.Header()
	ttl := time.Duration(hdr.Ttl) * time.Second
	if c.overrideTTL > 0 {
		ttl = c.overrideTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().Unix()
	c.insertLocked(rr, now+int64(ttl.Seconds()))
	c.evictOverflowLocked()
}

func (c *Cache) insertLocked(rr dns.RR, deadline int64) {
	hdr := rr.Header()
	key := lookupKey{name: dns.CanonicalName(hdr.Name), rtype: hdr.Rrtype, class: hdr.Class}
	id := identity(rr)

	submap := c.records[key]
	if submap == nil {
		submap = map[string]*entry{}
		c.records[key] = submap
	}

	if e, ok := submap[id]; ok {
		if deadline > e.deadline {
			e.deadline = deadline
			e.rr = dns.Copy(rr)
		}
		c.lru.MoveToBack(e.elem)
		return
	}

	e := &entry{rr: dns.Copy(rr), deadline: deadline}
	e.elem = c.lru.PushBack(lruRef{key: key, id: id})
	submap[id] = e
	c.count++
}

func (c *Cache) evictOverflowLocked() {
	for c.count > c.maxEntries {
		front := c.lru.Front()
		if front == nil {
			return
		}
		ref := front.Value.(lruRef)
		c.lru.Remove(front)

		submap := c.records[ref.key]
		delete(submap, ref.id)
		if len(submap) == 0 {
			delete(c.records, ref.key)
		}
		c.count--
	}
}

// Cleanup evicts every entry whose deadline has passed.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()
}

func (c *Cache) cleanupLocked() {
	now := c.now().Unix()
	for key, submap := range c.records {
		for id, e := range submap {
			if e.deadline <= now {
				c.lru.Remove(e.elem)
				delete(submap, id)
				c.count--
			}
		}
		if len(submap) == 0 {
			delete(c.records, key)
		}
	}
	c.lastCleanup = now
}

// identity returns a string uniquely identifying rr's (name, type, class,
// rdata), deliberately excluding TTL: TTL is metadata, not identity.
func identity(rr dns.RR) string {
	cp := dns.Copy(rr)
	cp.Header().Ttl = 0
	return cp.String()
}

// Persist writes every non-expired entry to path, and the current time to
// path+".timestamp", so Load can recompute remaining TTLs later. I/O errors
// are logged and returned to the caller; a failed persist leaves the
// in-memory cache untouched and usable.
func (c *Cache) Persist(path string) error {
	c.mu.Lock()
	now := c.now().Unix()
	var lines []string
	for _, submap := range c.records {
		for _, e := range submap {
			remaining := e.deadline - now
			if remaining <= 0 {
				continue
			}
			rr := dns.Copy(e.rr)
			rr.Header().Ttl = uint32(remaining)
			lines = append(lines, rr.String())
		}
	}
	c.mu.Unlock()

	if err := writeLines(path, lines); err != nil {
		log.Warn(map[string]any{"path": path, "error": err.Error()}, "cache persist failed")
		return err
	}

	if err := os.WriteFile(path+".timestamp", []byte(strconv.FormatInt(now, 10)), 0o644); err != nil {
		log.Warn(map[string]any{"path": path, "error": err.Error()}, "cache timestamp persist failed")
		return err
	}

	return nil
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load adds records read from path to the cache, recomputing remaining TTL
// from path+".timestamp"; entries already in the cache are kept. A missing
// file or a malformed timestamp loads nothing, malformed record lines are
// skipped, and entries whose recomputed TTL is <= 0 are discarded.
func (c *Cache) Load(path string) {
	tsBytes, err := os.ReadFile(path + ".timestamp")
	if err != nil {
		log.Debug(map[string]any{"path": path}, "no cache timestamp file, starting empty")
		return
	}
	storedAt, err := strconv.ParseInt(strings.TrimSpace(string(tsBytes)), 10, 64)
	if err != nil {
		log.Warn(map[string]any{"path": path}, "malformed cache timestamp, starting empty")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Debug(map[string]any{"path": path}, "no cache file, starting empty")
		return
	}
	defer f.Close()

	now := c.now().Unix()
	elapsed := now - storedAt

	var loaded []dns.RR
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rr, err := dns.NewRR(line)
		if err != nil || rr == nil {
			log.Warn(map[string]any{"line": line}, "discarding malformed cache record")
			continue
		}

		remaining := int64(rr.Header().Ttl) - elapsed
		if remaining <= 0 {
			continue
		}
		rr.Header().Ttl = uint32(remaining)
		loaded = append(loaded, rr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rr := range loaded {
		c.insertLocked(rr, now+int64(rr.Header().Ttl))
	}
	c.evictOverflowLocked()
	c.lastCleanup = now
}
