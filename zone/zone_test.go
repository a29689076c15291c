package zone

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func newTestCatalog(t *testing.T) *Catalog {
	z := NewZone("ru.nl.")
	z.AddRecord(mustRR(t, "shuckle.ru.nl. 300 IN A 131.174.1.1"))
	z.AddRecord(mustRR(t, "ru.nl. 300 IN NS ns1.ru.nl."))
	z.AddRecord(mustRR(t, "ns1.ru.nl. 300 IN A 131.174.1.2"))
	z.AddRecord(mustRR(t, "alias.ru.nl. 300 IN CNAME shuckle.ru.nl."))

	cat := NewCatalog()
	cat.AddZone(z)
	return cat
}

func TestLookupExactMatch(t *testing.T) {
	cat := newTestCatalog(t)

	answers, authorities, found := cat.Lookup("shuckle.ru.nl.", dns.TypeA)
	require.True(t, found)
	require.Len(t, answers, 2) // the exact match, then the apex NS's glue
	assert.Equal(t, "shuckle.ru.nl.", answers[0].Header().Name)
	assert.NotEmpty(t, authorities) // apex NS record
}

func TestLookupFollowsCNAME(t *testing.T) {
	cat := newTestCatalog(t)

	answers, _, found := cat.Lookup("alias.ru.nl.", dns.TypeA)
	require.True(t, found)

	var sawCNAME, sawA bool
	for _, rr := range answers {
		switch rr.Header().Rrtype {
		case dns.TypeCNAME:
			sawCNAME = true
		case dns.TypeA:
			sawA = true
		}
	}
	assert.True(t, sawCNAME, "expected CNAME record in answers")
	assert.True(t, sawA, "expected CNAME target's A record in answers")
}

func TestLookupCNAMEQueryDoesNotFollow(t *testing.T) {
	cat := newTestCatalog(t)

	answers, _, found := cat.Lookup("alias.ru.nl.", dns.TypeCNAME)
	require.True(t, found)
	require.Len(t, answers, 2) // the CNAME itself and the apex NS's glue, no target A
	assert.Equal(t, "ns1.ru.nl.", answers[1].Header().Name)
	assert.Equal(t, dns.TypeCNAME, answers[0].Header().Rrtype)
}

func TestLookupNoMatch(t *testing.T) {
	cat := newTestCatalog(t)

	answers, authorities, found := cat.Lookup("s.h.u.c.k.l.e.", dns.TypeA)
	assert.False(t, found)
	assert.Empty(t, answers)
	assert.Empty(t, authorities)
}

func TestLookupTerminatesOnCNAMELoop(t *testing.T) {
	z := NewZone("loop.test.")
	z.AddRecord(mustRR(t, "a.loop.test. 300 IN CNAME b.loop.test."))
	z.AddRecord(mustRR(t, "b.loop.test. 300 IN CNAME a.loop.test."))

	cat := NewCatalog()
	cat.AddZone(z)

	done := make(chan struct{})
	go func() {
		cat.Lookup("a.loop.test.", dns.TypeA)
		close(done)
	}()

	select {
	case <-done:
	case <-timeoutAfter():
		t.Fatal("Lookup did not terminate on CNAME loop")
	}
}

func TestLoadMasterFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	content := "$TTL 1h\n$ORIGIN ru.nl.\n@\tIN\tNS\tns1.ru.nl.\nns1\tIN\tA\t131.174.1.2\nshuckle\tIN\tA\t131.174.1.1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ru.nl.zone"), []byte(content), 0o644))

	cat, err := LoadDirectory(dir)
	require.NoError(t, err)

	answers, _, found := cat.Lookup("shuckle.ru.nl.", dns.TypeA)
	require.True(t, found)
	require.Len(t, answers, 2) // shuckle's A record and the apex NS's glue
}

func timeoutAfter() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-time.After(2 * time.Second)
		close(ch)
	}()
	return ch
}
