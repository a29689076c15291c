package zone

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"
)

// LoadMasterFile reads an RFC 1035 master file (the $TTL/$ORIGIN/SOA/NS/A/
// CNAME format, with s/m/h/d/w TTL suffixes) from path and returns a Zone.
// Parsing itself is delegated to dns.ZoneParser — master file lexing is an
// external-collaborator concern this package merely consumes, consistent
// with the core's treatment of the wire codec.
//
// originHint seeds the parser's notion of "current origin" so that any
// unqualified name appearing before the file's own $ORIGIN directive (or in
// a file with none at all) still resolves to something sensible. It does
// not decide the Zone's apex: the apex is the zone's $ORIGIN, recovered
// here from the owner name of the file's SOA record, which a conformant
// zone file always carries at its origin. originHint is used as the apex
// only as a last resort, for a malformed file with no SOA record at all.
func LoadMasterFile(path, originHint string) (*Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file %s: %w", path, err)
	}
	defer f.Close()

	zp := dns.NewZoneParser(f, dns.Fqdn(originHint), path)
	zp.SetIncludeAllowed(false)

	var records []dns.RR
	apex := ""
	for {
		rr, ok := zp.Next()
		if !ok {
			break
		}
		if soa, ok := rr.(*dns.SOA); ok && apex == "" {
			apex = dns.CanonicalName(soa.Hdr.Name)
		}
		records = append(records, rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parse zone file %s: %w", path, err)
	}
	if apex == "" {
		apex = dns.Fqdn(originHint)
	}

	z := NewZone(apex)
	for _, rr := range records {
		z.AddRecord(rr)
	}
	return z, nil
}

// LoadDirectory loads every "*.zone" file in dir into a Catalog, keyed by
// each zone's apex as LoadMasterFile determines it (the owner of its SOA
// record). The filename without its ".zone" suffix is passed along as the
// parser's origin hint, so a file named to aid a human reader (e.g.
// "ru-nl.zone") still lands under its real origin as long as it carries an
// SOA record; a file without one is keyed by that filename hint.
func LoadDirectory(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read zone directory %s: %w", dir, err)
	}

	cat := NewCatalog()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zone") {
			continue
		}

		originHint := strings.TrimSuffix(e.Name(), ".zone")
		z, err := LoadMasterFile(filepath.Join(dir, e.Name()), originHint)
		if err != nil {
			return nil, err
		}
		cat.AddZone(z)
	}

	return cat, nil
}
