// Package resolver implements the iterative DNS resolution engine: §4.3 of
// the specification. It walks delegations from a queue of nameserver hints,
// follows CNAME chains, integrates with a TTL-aware cache, and never
// surfaces an error to its caller — failures simply end up as an empty
// result.
//
// The algorithm itself is grounded in
// original_source/proj_s4499115_s4359283/dns/resolver.py's gethostbyname;
// the Go idiom (functional options, context-scoped dialing, error wrapping)
// is grounded in classmarkets-go-dns-resolver/resolver.go.
package resolver

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/dnslab/rdns/cache"
	"github.com/dnslab/rdns/internal/log"
)

const defaultTimeout = time.Second

// Resolver resolves hostnames to canonical names, alias chains, and IPv4
// address sets by iteratively querying nameservers starting from a
// configured hint list.
//
// A Resolver's exported configuration (set via options at construction time)
// must not change after construction; concurrent calls to GetHostByName are
// otherwise safe, except on a Resolver built WithTrace: the Trace is
// appended to without locking.
type Resolver struct {
	hints         []string
	port          string
	cache         *cache.Cache
	cachePolicy   CachePolicy
	timeout       time.Duration
	timeoutPolicy TimeoutPolicy
	trace         *Trace
}

// Option configures a Resolver at construction time.
type Option func(*Resolver)

// WithCache enables the cache short-circuit and opportunistic cache
// population described in spec §4.3.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithTimeout sets the default per-try timeout used when no TimeoutPolicy
// override applies.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithTimeoutPolicy overrides the default timeout policy.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(r *Resolver) { r.timeoutPolicy = p }
}

// WithCachePolicy overrides the default policy governing which NS
// delegations are worth caching (see CachePolicy).
func WithCachePolicy(p CachePolicy) Option {
	return func(r *Resolver) { r.cachePolicy = p }
}

// WithTrace attaches t to record every dialed hint during resolution.
func WithTrace(t *Trace) Option {
	return func(r *Resolver) { r.trace = t }
}

// WithPort overrides the port every hint is dialed on. Production resolvers
// never need this (nameservers listen on 53); it exists so tests can point
// a Resolver at loopback fixtures bound to an unprivileged port.
func WithPort(port string) Option {
	return func(r *Resolver) { r.port = port }
}

// New returns a Resolver that begins iterative resolution at hints. For a
// standalone resolver, hints is typically resolver.RootHints; a resolver
// embedded in a server may instead be given a single forwarding hint.
func New(hints []string, opts ...Option) *Resolver {
	r := &Resolver{
		hints:         append([]string{}, hints...),
		port:          "53",
		timeout:       defaultTimeout,
		timeoutPolicy: DefaultTimeoutPolicy(),
		cachePolicy:   DefaultCachePolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetHostByName resolves hostname to a canonical name, its alias chain, and
// its IPv4 addresses. It never returns an error to the caller: an invalid
// hostname or a total resolution failure both yield (canonicalName, nil,
// nil).
func (r *Resolver) GetHostByName(ctx context.Context, hostname string) (string, []string, []string) {
	trimmed := strings.TrimSuffix(hostname, ".")
	canonical := dns.Fqdn(strings.ToLower(trimmed))

	if !isValidHostname(trimmed) {
		return canonical, nil, nil
	}

	aliases, addresses := r.resolve(ctx, canonical, nil)
	return canonical, dedupe(aliases), dedupe(addresses)
}

// resolve is the recursive core behind GetHostByName. resolving is the
// stack of NS owner names currently being chased, by value, so sibling
// branches of the search do not interfere with each other's loop detection.
func (r *Resolver) resolve(ctx context.Context, qname string, resolving []string) (aliases, addresses []string) {
	if r.cache != nil {
		if hit, ok := r.lookupCache(ctx, qname, resolving); ok {
			return hit.aliases, hit.addresses
		}
	}

	hints := append(r.cachedDelegationHints(qname), r.hints...)
	usedHints := map[string]bool{}
	usedNameservers := map[string]bool{}

	for len(hints) > 0 {
		hint := hints[0]
		hints = hints[1:]
		usedHints[hint] = true

		resp, err := r.query(ctx, hint, qname)
		if err != nil {
			log.Debug(map[string]any{"hint": hint, "qname": qname, "error": err.Error()}, "nameserver did not respond")
			continue
		}

		r.populateCache(resp)

		known := map[string]bool{qname: true}
		for _, a := range aliases {
			known[a] = true
		}
		for _, rr := range resp.Answer {
			a, ok := rr.(*dns.A)
			if !ok || !known[dns.CanonicalName(a.Hdr.Name)] {
				continue
			}
			addresses = append(addresses, a.A.String())
		}

		for _, rr := range resp.Answer {
			cn, ok := rr.(*dns.CNAME)
			if !ok {
				continue
			}
			target := dns.CanonicalName(cn.Target)
			if contains(aliases, target) {
				continue
			}
			aliases = append(aliases, target)

			recAliases, recAddrs := r.resolve(ctx, target, resolving)
			aliases = append(aliases, recAliases...)
			addresses = append(addresses, recAddrs...)
		}

		if len(addresses) > 0 {
			return aliases, addresses
		}

		hints = r.followReferrals(ctx, resp, qname, resolving, usedHints, usedNameservers, hints)
	}

	return nil, nil
}

// followReferrals implements spec §4.3 step 8: for every NS record in the
// response's authority section, either prepend a glue address found in the
// additional section, or — only when no glue was present at all — resolve
// the NS owner name itself and prepend whatever addresses that yields.
//
// A name match against the additional section stops the inner scan
// regardless of whether the glue it carries is fresh; usedNameservers is
// only updated for fresh glue, so an NS offered nothing but addresses this
// resolver has already tried can still be chased recursively later. Mirrors
// original_source/proj_s4499115_s4359283/dns/resolver.py's gethostbyname:
// the `break` out of the additionals loop fires on any name match, but
// `usednameservers.append` only happens inside the nested
// `if str(...) not in usedhints` branch.
func (r *Resolver) followReferrals(ctx context.Context, resp *dns.Msg, qname string, resolving []string, usedHints, usedNameservers map[string]bool, hints []string) []string {
	for _, rr := range resp.Ns {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		owner := dns.CanonicalName(ns.Header().Name)
		nsTarget := dns.CanonicalName(ns.Ns)

		if r.cache != nil && r.cachePolicy(owner) {
			r.cache.Add(rr)
		}

		matched := false
		for _, extra := range resp.Extra {
			a, ok := extra.(*dns.A)
			if !ok || dns.CanonicalName(a.Hdr.Name) != nsTarget {
				continue
			}
			matched = true

			addr := a.A.String()
			if !usedHints[addr] {
				usedNameservers[nsTarget] = true
				hints = append([]string{addr}, hints...)
				if r.cache != nil && r.cachePolicy(owner) {
					r.cache.Add(a)
				}
			}
			break
		}

		if matched {
			continue
		}

		if usedNameservers[nsTarget] || nsTarget == qname || contains(resolving, nsTarget) {
			continue
		}

		_, nsAddrs := r.resolve(ctx, nsTarget, append(append([]string{}, resolving...), nsTarget))
		usedNameservers[nsTarget] = true
		hints = append(nsAddrs, hints...)
	}

	return hints
}

type cacheHit struct {
	aliases   []string
	addresses []string
}

// lookupCache implements the cache short-circuit from spec §4.3: an A hit
// returns immediately without consulting CNAMEs; a CNAME hit recursively
// resolves its target and returns only if that yields an address.
func (r *Resolver) lookupCache(ctx context.Context, qname string, resolving []string) (cacheHit, bool) {
	if hits := r.cache.Lookup(qname, dns.TypeA, dns.ClassINET); len(hits) > 0 {
		var addrs []string
		for _, rr := range hits {
			addrs = append(addrs, rr.(*dns.A).A.String())
		}
		return cacheHit{addresses: addrs}, true
	}

	hits := r.cache.Lookup(qname, dns.TypeCNAME, dns.ClassINET)
	if len(hits) == 0 {
		return cacheHit{}, false
	}

	var aliases, addresses []string
	for _, rr := range hits {
		target := dns.CanonicalName(rr.(*dns.CNAME).Target)
		aliases = append(aliases, target)

		recAliases, recAddrs := r.resolve(ctx, target, resolving)
		aliases = append(aliases, recAliases...)
		addresses = append(addresses, recAddrs...)
	}

	if len(addresses) == 0 {
		return cacheHit{}, false
	}
	return cacheHit{aliases: aliases, addresses: addresses}, true
}

// cachedDelegationHints returns nameserver addresses cached for qname's
// public suffix by a prior followReferrals call, giving resolve a shortcut
// past the root hints when this resolver has already learned the relevant
// TLD's delegation. Returns nil whenever caching is disabled or nothing
// cacheable has been learned yet.
func (r *Resolver) cachedDelegationHints(qname string) []string {
	if r.cache == nil {
		return nil
	}
	suffix := publicSuffixOf(qname)
	if suffix == "" {
		return nil
	}

	var hints []string
	for _, rr := range r.cache.Lookup(dns.Fqdn(suffix), dns.TypeNS, dns.ClassINET) {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		for _, glue := range r.cache.Lookup(dns.CanonicalName(ns.Ns), dns.TypeA, dns.ClassINET) {
			if a, ok := glue.(*dns.A); ok {
				hints = append(hints, a.A.String())
			}
		}
	}
	return hints
}

func (r *Resolver) populateCache(resp *dns.Msg) {
	if r.cache == nil {
		return
	}
	for _, rr := range append(append([]dns.RR{}, resp.Answer...), resp.Extra...) {
		switch rr.(type) {
		case *dns.A, *dns.CNAME:
			r.cache.Add(rr)
		}
	}
}

// query sends one iterative (rd=0), single-question A query for qname to
// hint on this resolver's configured port, with a random 16-bit ident, and
// waits up to the per-try timeout for a matching response.
func (r *Resolver) query(ctx context.Context, hint, qname string) (*dns.Msg, error) {
	addr := net.JoinHostPort(hint, r.port)

	m := new(dns.Msg)
	m.Id = uint16(rand.Intn(65536))
	m.RecursionDesired = false
	m.Question = []dns.Question{{Name: qname, Qtype: dns.TypeA, Qclass: dns.ClassINET}}

	timeout := r.timeout
	if r.timeoutPolicy != nil {
		if t := r.timeoutPolicy(hint); t > 0 {
			timeout = t
		}
	}

	c := &dns.Client{Timeout: timeout}
	resp, rtt, err := c.ExchangeContext(ctx, m, addr)
	r.trace.record(hint, m.Question[0], resp, rtt, err)
	if err != nil {
		return nil, err
	}
	if resp.Id != m.Id {
		return nil, errIdentMismatch
	}

	return resp, nil
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func dedupe(xs []string) []string {
	if len(xs) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}
