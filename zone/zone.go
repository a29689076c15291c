// Package zone implements the authoritative-data side of the server: an
// immutable-after-load Catalog of Zones and the longest-suffix zone lookup
// algorithm that walks CNAME and NS chains while guarding against loops.
//
// The Catalog's map-of-maps shape and its RWMutex are grounded in
// haukened-rr-dns/internal/dns/repos/zonecache/zonecache.go; the lookup
// algorithm itself (answer/authority/found triple, CNAME and NS chasing) is
// grounded in original_source/proj_s4499115_s4359283/dns/server.py's
// check_zone.
package zone

import (
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// Zone is a single authoritative zone: a mapping from owner name to the
// resource records it holds. NS records at a delegation point live alongside
// any other records owned by that name.
type Zone struct {
	apex    string
	records map[string][]dns.RR
}

// NewZone returns an empty zone rooted at apex.
func NewZone(apex string) *Zone {
	return &Zone{
		apex:    dns.CanonicalName(apex),
		records: map[string][]dns.RR{},
	}
}

// Apex returns the zone's root (owner) name, canonical form.
func (z *Zone) Apex() string { return z.apex }

// AddRecord adds rr to the zone, owned by rr's header name.
func (z *Zone) AddRecord(rr dns.RR) {
	name := dns.CanonicalName(rr.Header().Name)
	z.records[name] = append(z.records[name], rr)
}

// Records returns the records owned by name, or nil if none.
func (z *Zone) Records(name string) []dns.RR {
	return z.records[dns.CanonicalName(name)]
}

// Catalog is a collection of Zones indexed by their apex name. It is built
// once at startup and is safe for concurrent Lookup calls; AddZone is
// synchronized against Lookup in case a reload happens while the server is
// answering queries.
type Catalog struct {
	mu    sync.RWMutex
	zones map[string]*Zone
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{zones: map[string]*Zone{}}
}

// AddZone registers z, keyed by its apex. A second call with the same apex
// replaces the first.
func (c *Catalog) AddZone(z *Zone) {
	c.mu.Lock()
	c.zones[z.apex] = z
	c.mu.Unlock()
}

// Zones returns the apex names of every zone currently in the catalog.
func (c *Catalog) Zones() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.zones))
	for apex := range c.zones {
		out = append(out, apex)
	}
	return out
}

// findZone returns the zone whose apex is the longest label-wise suffix of
// qname, or nil if none matches.
func (c *Catalog) findZone(qname string) *Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Zone
	bestLabels := -1

	for apex, z := range c.zones {
		if !isSuffix(qname, apex) {
			continue
		}
		labels := dns.CountLabel(apex)
		if labels > bestLabels {
			bestLabels = labels
			best = z
		}
	}

	return best
}

func isSuffix(qname, apex string) bool {
	if apex == "." {
		return true
	}
	return qname == apex || dns.IsSubDomain(apex, qname)
}

// Lookup implements §4.2 of the specification: given a query name and type,
// it returns the best-matching zone's answers, the delegation authorities
// leading to it, and whether anything was found at all.
//
// A query whose qtype is exactly CNAME never auto-follows a CNAME found at
// qname. CNAME and NS chains are chased with a visited-name set so loops
// terminate instead of recursing forever.
func (c *Catalog) Lookup(qname string, qtype uint16) (answers, authorities []dns.RR, found bool) {
	a, auth := c.lookup(dns.CanonicalName(qname), qtype, map[string]bool{})
	return dedup(a), dedup(auth), len(a)+len(auth) > 0
}

func (c *Catalog) lookup(qname string, qtype uint16, visited map[string]bool) (answers, authorities []dns.RR) {
	if visited[qname] {
		return nil, nil
	}
	visited[qname] = true

	z := c.findZone(qname)
	if z == nil {
		return nil, nil
	}

	for _, rr := range z.Records(qname) {
		switch {
		case rr.Header().Rrtype == qtype:
			answers = append(answers, rr)
		case rr.Header().Rrtype == dns.TypeCNAME && qtype != dns.TypeCNAME:
			answers = append(answers, rr)
			target := rr.(*dns.CNAME).Target
			a2, auth2 := c.lookup(target, qtype, visited)
			answers = append(answers, a2...)
			authorities = append(authorities, auth2...)
		}
	}

	for _, suffix := range suffixChain(qname, z.apex) {
		for _, rr := range z.Records(suffix) {
			if rr.Header().Rrtype != dns.TypeNS {
				continue
			}
			authorities = append(authorities, rr)

			target := rr.(*dns.NS).Ns
			a2, auth2 := c.lookup(target, dns.TypeA, visited)
			answers = append(answers, a2...)
			authorities = append(authorities, auth2...)
		}
	}

	return answers, authorities
}

// suffixChain returns qname and every shorter label-wise suffix of it down
// to and including apex.
func suffixChain(qname, apex string) []string {
	labels := dns.SplitDomainName(qname)
	apexLabels := dns.SplitDomainName(apex)

	n := len(labels) - len(apexLabels)
	if n < 0 {
		return nil
	}

	out := make([]string, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, dns.Fqdn(strings.Join(labels[i:], ".")))
	}
	return out
}

func dedup(rrs []dns.RR) []dns.RR {
	if len(rrs) == 0 {
		return nil
	}

	seen := map[string]bool{}
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		key := rr.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rr)
	}
	return out
}
