package resolver

import "regexp"

// RootHints are the IPv4 addresses of the public DNS root servers. A
// standalone resolver (the CLI client) starts iterative resolution here; a
// resolver embedded in the server may instead be constructed with a
// single-entry hint list such as []string{"127.0.0.1"} to forward through a
// local recursive resolver, per spec.
var RootHints = []string{
	"198.41.0.4",     // a.root-servers.net
	"199.9.14.201",   // b.root-servers.net
	"192.33.4.12",    // c.root-servers.net
	"199.7.91.13",    // d.root-servers.net
	"192.203.230.10", // e.root-servers.net
	"192.5.5.241",    // f.root-servers.net
	"192.112.36.4",   // g.root-servers.net
	"198.97.190.53",  // h.root-servers.net
	"192.36.148.17",  // i.root-servers.net
	"192.58.128.30",  // j.root-servers.net
	"193.0.14.129",   // k.root-servers.net
	"199.7.83.42",    // l.root-servers.net
	"202.12.27.33",   // m.root-servers.net
}

// hostnameLabel matches one DNS label: 1-63 characters of [A-Za-z0-9], with
// interior hyphens allowed.
var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// isValidHostname reports whether hostname (with any trailing dot already
// stripped) matches the label grammar from spec §4.3.
func isValidHostname(hostname string) bool {
	if hostname == "" {
		return false
	}

	labels := splitLabels(hostname)
	if len(labels) == 0 {
		return false
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 || !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}

func splitLabels(hostname string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(hostname); i++ {
		if hostname[i] == '.' {
			labels = append(labels, hostname[start:i])
			start = i + 1
		}
	}
	labels = append(labels, hostname[start:])
	return labels
}
