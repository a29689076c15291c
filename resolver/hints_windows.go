package resolver

import "errors"

// DiscoverSystemHints is unimplemented on Windows: there is no equivalent
// of /etc/resolv.conf, and the documented alternatives
// (https://github.com/miekg/dns/issues/334) need more than this function's
// signature to do correctly. Callers fall back to RootHints.
func DiscoverSystemHints() ([]string, error) {
	return nil, errors.New("resolver: system hint discovery is unimplemented on windows")
}
