// Package server implements the UDP listener and per-request handler from
// spec §4.4: classify each incoming query, answer authoritatively from the
// Catalog when possible, fall back to the Resolver when recursion is
// desired, and always echo the query's ident and question section.
//
// Grounded in original_source/proj_s4499115_s4359283/dns/server.py's
// RequestHandler.handle_request state machine; the Go idiom (a dns.Server
// bound to a dns.HandlerFunc, structured zap logging in place of the
// original's print statements) is grounded in
// classmarkets-go-dns-resolver/server_test.go's TestServer fixture, which
// shows the same net.ListenPacket + dns.Server{PacketConn, Handler} wiring
// used here for production rather than tests.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/miekg/dns"

	"github.com/dnslab/rdns/cache"
	"github.com/dnslab/rdns/internal/log"
	"github.com/dnslab/rdns/resolver"
	"github.com/dnslab/rdns/zone"
)

// AnswerTTL is the TTL stamped onto CNAME/A records synthesized from a
// Resolver result. The original had exactly one configured TTL for this
// purpose (self.ttl in server.py); this implementation keeps that single
// knob rather than inventing one per record.
const AnswerTTL = 300

// Server owns the listening UDP socket, the authoritative Catalog, and the
// Resolver used for recursive queries. Its zero value is not usable;
// construct one with New.
type Server struct {
	catalog  *zone.Catalog
	resolver *resolver.Resolver
	cache    *cache.Cache

	cachePath string
	answerTTL uint32

	pc  net.PacketConn
	srv *dns.Server

	// sendMu serializes every write to pc, mirroring the original
	// server's single `lock` guarding sendto. miekg/dns's ResponseWriter
	// already writes one datagram per WriteMsg call, but the original
	// explicitly modeled a process-wide send lock and spec §4.4 repeats
	// that requirement, so it is kept here rather than relied upon
	// implicitly.
	sendMu sync.Mutex
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithCachePersistence makes Shutdown persist c to path before the process
// exits, the same way the original's Server.shutdown called
// resolver.save_cache().
func WithCachePersistence(c *cache.Cache, path string) Option {
	return func(s *Server) {
		s.cache = c
		s.cachePath = path
	}
}

// WithAnswerTTL overrides AnswerTTL.
func WithAnswerTTL(ttl uint32) Option {
	return func(s *Server) { s.answerTTL = ttl }
}

// New returns a Server that answers authoritatively from catalog and
// recurses through res for everything else.
func New(catalog *zone.Catalog, res *resolver.Resolver, opts ...Option) *Server {
	s := &Server{
		catalog:   catalog,
		resolver:  res,
		answerTTL: AnswerTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds addr (e.g. ":53" or "127.0.0.1:5353") and serves
// until Shutdown is called. It blocks for the life of the server.
func (s *Server) ListenAndServe(addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	s.pc = pc
	s.srv = &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(s.handle)}

	log.Info(map[string]any{"addr": addr}, "dns server listening")
	return s.srv.ActivateAndServe()
}

// Shutdown stops accepting new datagrams, waits for in-flight handlers (per
// miekg/dns's ShutdownContext), and persists the cache to disk if
// WithCachePersistence was configured. Mirrors the original's
// Server.shutdown ordering: stop serving, then save the cache.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.ShutdownContext(ctx)
	}

	if s.cache != nil && s.cachePath != "" {
		if perr := s.cache.Persist(s.cachePath); perr != nil {
			log.Warn(map[string]any{"path": s.cachePath, "error": perr.Error()}, "failed to persist cache on shutdown")
		}
	}

	log.Info(nil, "dns server shut down")
	return err
}

// handle is the per-datagram entry point: spec §4.4 steps 2-6. miekg/dns
// only invokes this for datagrams it could parse, so step 1 (malformed →
// drop silently) is handled before handle is ever called.
func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	ident := r.Id

	if r.Opcode != dns.OpcodeQuery {
		log.Debug(map[string]any{"ident": ident, "opcode": r.Opcode}, "rejecting nonstandard opcode")
		s.reply(w, errorResponse(r, dns.RcodeNotImplemented))
		return
	}
	if len(r.Question) != 1 {
		log.Debug(map[string]any{"ident": ident, "questions": len(r.Question)}, "rejecting malformed question count")
		s.reply(w, errorResponse(r, dns.RcodeFormatError))
		return
	}

	q := r.Question[0]

	if answers, authorities, found := s.catalog.Lookup(q.Name, q.Qtype); found {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Authoritative = true
		m.RecursionAvailable = true
		m.Answer = answers
		m.Ns = authorities
		log.Info(map[string]any{"ident": ident, "qname": q.Name, "qtype": q.Qtype}, "answered from zone")
		s.reply(w, m)
		return
	}

	if r.RecursionDesired {
		s.recurse(w, r, q)
		return
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.RecursionAvailable = true
	s.reply(w, m)
}

// recurse implements spec §4.4 step 5: invoke the Resolver and wrap its
// result as CNAME/A records, all owned by the canonical name the Resolver
// returned, matching original_source's RequestHandler.handle_request.
func (s *Server) recurse(w dns.ResponseWriter, r *dns.Msg, q dns.Question) {
	canonical, aliases, addresses := s.resolver.GetHostByName(context.Background(), q.Name)
	owner := dns.Fqdn(canonical)

	m := new(dns.Msg)
	m.SetReply(r)
	m.RecursionAvailable = true

	for _, alias := range aliases {
		m.Answer = append(m.Answer, &dns.CNAME{
			Hdr:    dns.RR_Header{Name: owner, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: s.answerTTL},
			Target: dns.Fqdn(alias),
		})
	}
	for _, addr := range addresses {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: s.answerTTL},
			A:   ip,
		})
	}

	log.Info(map[string]any{"ident": r.Id, "qname": q.Name, "answers": len(m.Answer)}, "answered via recursive resolution")
	s.reply(w, m)
}

// errorResponse builds the rcode-only response for steps 2's validation
// failures, still echoing ident, rd, and the original question section.
func errorResponse(r *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Question = append([]dns.Question(nil), r.Question...)
	m.RecursionDesired = r.RecursionDesired
	m.RecursionAvailable = true
	m.Rcode = rcode
	return m
}

func (s *Server) reply(w dns.ResponseWriter, m *dns.Msg) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := w.WriteMsg(m); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "failed to write response")
	}
}
