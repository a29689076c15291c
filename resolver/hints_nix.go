//go:build !windows
// +build !windows

package resolver

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// DiscoverSystemHints asks the nameservers configured in /etc/resolv.conf
// for the root zone's NS set and returns the glue addresses from the
// response, as an alternative seed to the hardcoded RootHints: a resolver
// built from freshly discovered hints tracks root server renumbering
// without a code change.
//
// Grounded in classmarkets-go-dns-resolver/root_nix.go's
// discoverRootServers, adapted from a Resolver method that mutated private
// state into a standalone function returning the discovered list.
func DiscoverSystemHints() ([]string, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("cannot determine root name servers: %w", err)
	}

	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion(".", dns.TypeNS)
	m.RecursionDesired = true

	var lastErr error
	for _, srv := range conf.Servers {
		resp, _, err := c.Exchange(m, srv+":"+conf.Port)
		if err != nil {
			lastErr = fmt.Errorf("cannot determine root name servers: %w", err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("cannot determine root name servers: %s", dns.RcodeToString[resp.Rcode])
			continue
		}

		var hints []string
		for _, e := range resp.Extra {
			if a, ok := e.(*dns.A); ok {
				hints = append(hints, a.A.String())
			}
		}
		if len(hints) > 0 {
			return hints, nil
		}
		lastErr = errors.New("cannot determine root name servers: empty additional section")
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("no nameservers configured in /etc/resolv.conf")
}
