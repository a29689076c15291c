package resolver

import (
	"net"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// TimeoutPolicy determines the round-trip timeout for a single query to a
// given nameserver address. Any non-positive duration falls back to the
// Resolver's configured default timeout.
//
// Grounded in classmarkets-go-dns-resolver/policy.go's TimeoutPolicy /
// DefaultTimeoutPolicy / PrivateNets: tests and loopback fixtures get a much
// shorter timeout than real-world queries so failure scenarios do not make
// the test suite slow.
type TimeoutPolicy func(nameServerAddress string) time.Duration

// DefaultTimeoutPolicy returns 100ms for addresses in PrivateNets and zero
// for everything else, so every other address gets the Resolver's
// configured timeout.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return defaultTimeoutPolicy
}

func defaultTimeoutPolicy(nameServerAddress string) time.Duration {
	ip := net.ParseIP(nameServerAddress)
	if ip == nil {
		return 0
	}

	for _, n := range PrivateNets {
		if n.Contains(ip) {
			return 100 * time.Millisecond
		}
	}

	return 0
}

// PrivateNets is consulted by DefaultTimeoutPolicy to shorten timeouts for
// destinations that are expected to answer quickly, such as test fixtures.
var PrivateNets = []*net.IPNet{
	mustParseCIDR("10.0.0.0/8"),
	mustParseCIDR("127.0.0.0/8"),
	mustParseCIDR("169.254.0.0/16"),
	mustParseCIDR("172.16.0.0/12"),
	mustParseCIDR("192.168.0.0/16"),
}

func mustParseCIDR(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

// CachePolicy reports whether an NS delegation owned by name is worth
// remembering between independent resolutions. A delegation to a public
// suffix's servers (e.g. the authorities for "com.") is stable and shared by
// every query under that suffix, so caching it saves a walk from the root
// hints on every subsequent lookup; a delegation further down the tree is
// specific to one query and not worth keeping.
//
// Grounded in classmarkets-go-dns-resolver/policy.go's CachePolicy /
// DefaultCachePolicy / isPublicSuffix, which used the same publicsuffix
// lookup to decide whether a cached *response* stayed fresh. This resolver
// has no RecordSet/response type to hang that on, so the same test instead
// gates whether a *delegation* earns a cache entry at all (see
// followReferrals and cachedDelegationHints in resolver.go).
type CachePolicy func(name string) bool

// DefaultCachePolicy reports whether name is a public suffix (such as
// "com.", "co.uk."; see https://publicsuffix.org/).
func DefaultCachePolicy() CachePolicy {
	return isPublicSuffix
}

func isPublicSuffix(fqdn string) bool {
	name := strings.TrimSuffix(fqdn, ".")
	return publicSuffixOf(fqdn) == name
}

// publicSuffixOf returns fqdn's public suffix (e.g. "example.co.uk." ->
// "co.uk"). A name under a TLD missing from the list yields its last label;
// only an empty name yields "".
func publicSuffixOf(fqdn string) string {
	name := strings.TrimSuffix(fqdn, ".")
	s, _ := publicsuffix.PublicSuffix(name)
	return s
}
