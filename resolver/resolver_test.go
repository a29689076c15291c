package resolver

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnslab/rdns/cache"
	"github.com/dnslab/rdns/internal/log"
)

func TestMain(m *testing.M) {
	log.SetLogger(log.NewNoop())
	os.Exit(m.Run())
}

// testPort is shared by every fake nameserver fixture in this file; fixtures
// are distinguished by loopback address, not port, mirroring
// classmarkets-go-dns-resolver/server_test.go's lab of same-port servers on
// consecutive addresses.
const testPort = "15353"

// fakeServer starts a real UDP dns.Server on ip:testPort and hands every
// query to handler. A nil return value from handler simulates a nameserver
// that never answers (the resolver's per-try timeout fires instead).
func fakeServer(t *testing.T, ip string, handler func(r *dns.Msg) *dns.Msg) {
	t.Helper()

	pc, err := net.ListenPacket("udp", net.JoinHostPort(ip, testPort))
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		resp := handler(r)
		if resp == nil {
			return
		}
		_ = w.WriteMsg(resp)
	})}

	go srv.ActivateAndServe()
	t.Cleanup(func() { _ = srv.Shutdown() })
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func withinTimeout(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolution did not terminate")
	}
}

func TestGetHostByNameExistingName(t *testing.T) {
	const rootIP, tldIP = "127.0.3.1", "127.0.3.2"

	fakeServer(t, rootIP, func(r *dns.Msg) *dns.Msg {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Ns = []dns.RR{mustRR(t, "example.com. 300 IN NS ns1.example.com.")}
		m.Extra = []dns.RR{mustRR(t, "ns1.example.com. 300 IN A "+tldIP)}
		return m
	})
	fakeServer(t, tldIP, func(r *dns.Msg) *dns.Msg {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = []dns.RR{mustRR(t, "www.example.com. 300 IN A 93.184.216.34")}
		return m
	})

	r := New([]string{rootIP}, WithPort(testPort))

	var canonical string
	var aliases, addresses []string
	withinTimeout(t, func() {
		canonical, aliases, addresses = r.GetHostByName(context.Background(), "www.example.com")
	})

	assert.Equal(t, "www.example.com.", canonical)
	assert.Empty(t, aliases)
	assert.Equal(t, []string{"93.184.216.34"}, addresses)
}

func TestGetHostByNameNonExistingName(t *testing.T) {
	const rootIP = "127.0.3.3"

	fakeServer(t, rootIP, func(r *dns.Msg) *dns.Msg {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Rcode = dns.RcodeNameError
		return m
	})

	r := New([]string{rootIP}, WithPort(testPort))

	var addresses []string
	withinTimeout(t, func() {
		_, _, addresses = r.GetHostByName(context.Background(), "ghost.example.com")
	})

	assert.Empty(t, addresses)
}

func TestCacheHitSkipsNetwork(t *testing.T) {
	// A TEST-NET-3 address (RFC 5737): routable syntax, nothing ever
	// listens there. If the resolver consulted the network instead of
	// short-circuiting on the cache hit, this test would hang for a full
	// timeout instead of returning immediately.
	const unreachableHint = "203.0.113.1"

	c := cache.New(cache.DefaultMaxEntries, 0)
	c.Add(mustRR(t, "cached.example.com. 300 IN A 10.0.0.9"))

	r := New([]string{unreachableHint}, WithCache(c), WithPort(testPort), WithTimeout(50*time.Millisecond))

	var addresses []string
	withinTimeout(t, func() {
		_, _, addresses = r.GetHostByName(context.Background(), "cached.example.com")
	})

	assert.Equal(t, []string{"10.0.0.9"}, addresses)
}

func TestCacheExpiryFallsBackToNetwork(t *testing.T) {
	const rootIP = "127.0.3.4"

	var queries int32
	fakeServer(t, rootIP, func(r *dns.Msg) *dns.Msg {
		atomic.AddInt32(&queries, 1)
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = []dns.RR{mustRR(t, "expiring.example.com. 300 IN A 10.0.0.10")}
		return m
	})

	c := cache.New(cache.DefaultMaxEntries, 0)
	c.Add(mustRR(t, "expiring.example.com. 1 IN A 10.0.0.99"))
	time.Sleep(1100 * time.Millisecond)

	r := New([]string{rootIP}, WithCache(c), WithPort(testPort))

	var addresses []string
	withinTimeout(t, func() {
		_, _, addresses = r.GetHostByName(context.Background(), "expiring.example.com")
	})

	assert.Equal(t, []string{"10.0.0.10"}, addresses)
	assert.EqualValues(t, 1, atomic.LoadInt32(&queries))
}

func TestGetHostByNameTerminatesOnReferralCycle(t *testing.T) {
	const aIP, bIP = "127.0.3.5", "127.0.3.6"

	var aQueries, bQueries int32
	fakeServer(t, aIP, func(r *dns.Msg) *dns.Msg {
		atomic.AddInt32(&aQueries, 1)
		m := new(dns.Msg)
		m.SetReply(r)
		m.Ns = []dns.RR{mustRR(t, "cycle.test. 300 IN NS b.cycle.test.")}
		m.Extra = []dns.RR{mustRR(t, "b.cycle.test. 300 IN A "+bIP)}
		return m
	})
	fakeServer(t, bIP, func(r *dns.Msg) *dns.Msg {
		atomic.AddInt32(&bQueries, 1)
		m := new(dns.Msg)
		m.SetReply(r)
		m.Ns = []dns.RR{mustRR(t, "cycle.test. 300 IN NS a.cycle.test.")}
		m.Extra = []dns.RR{mustRR(t, "a.cycle.test. 300 IN A "+aIP)}
		return m
	})

	r := New([]string{aIP}, WithPort(testPort), WithTimeout(500*time.Millisecond))

	var addresses []string
	withinTimeout(t, func() {
		_, _, addresses = r.GetHostByName(context.Background(), "www.cycle.test")
	})

	assert.Empty(t, addresses)
	assert.EqualValues(t, 1, atomic.LoadInt32(&aQueries), "each nameserver address should be dialed at most once")
	assert.EqualValues(t, 1, atomic.LoadInt32(&bQueries), "each nameserver address should be dialed at most once")
}

func TestGetHostByNameInvalidHostnameSendsNoQueries(t *testing.T) {
	const rootIP = "127.0.3.7"

	var queries int32
	fakeServer(t, rootIP, func(r *dns.Msg) *dns.Msg {
		atomic.AddInt32(&queries, 1)
		m := new(dns.Msg)
		m.SetReply(r)
		return m
	})

	r := New([]string{rootIP}, WithPort(testPort))

	_, aliases, addresses := r.GetHostByName(context.Background(), "not_a_valid_host!.example.com")

	assert.Nil(t, aliases)
	assert.Nil(t, addresses)
	assert.EqualValues(t, 0, atomic.LoadInt32(&queries))
}

func TestGetHostByNameConcurrentQueriesShareCacheSafely(t *testing.T) {
	const rootIP = "127.0.3.8"

	fakeServer(t, rootIP, func(r *dns.Msg) *dns.Msg {
		m := new(dns.Msg)
		m.SetReply(r)
		switch r.Question[0].Name {
		case "one.example.com.":
			m.Answer = []dns.RR{mustRR(t, "one.example.com. 300 IN A 10.1.0.1")}
		case "two.example.com.":
			m.Answer = []dns.RR{mustRR(t, "two.example.com. 300 IN A 10.1.0.2")}
		}
		return m
	})

	c := cache.New(cache.DefaultMaxEntries, 0)
	r := New([]string{rootIP}, WithCache(c), WithPort(testPort))

	var wg sync.WaitGroup
	var oneAddrs, twoAddrs []string
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, oneAddrs = r.GetHostByName(context.Background(), "one.example.com")
	}()
	go func() {
		defer wg.Done()
		_, _, twoAddrs = r.GetHostByName(context.Background(), "two.example.com")
	}()
	withinTimeout(t, wg.Wait)

	assert.Equal(t, []string{"10.1.0.1"}, oneAddrs)
	assert.Equal(t, []string{"10.1.0.2"}, twoAddrs)
}
