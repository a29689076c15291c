package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Trace records every query dialed by the Resolver it is attached to, across
// all of that Resolver's GetHostByName calls (entries are never cleared), for
// diagnostics. It is not safe for concurrent use. Attaching one costs an allocation per
// dialed hint; resolution without a Trace (the default) has none of that
// overhead.
//
// Grounded in classmarkets-go-dns-resolver/trace.go, simplified from a
// nested query tree down to a flat dial log: this resolver's hint queue is
// already flat, so there is no query-tree shape to mirror.
type Trace struct {
	Entries []TraceEntry
}

// TraceEntry is one dialed hint and what came back.
type TraceEntry struct {
	Hint     string
	Question string
	RTT      time.Duration
	Response *dns.Msg
	Err      error
}

func (t *Trace) record(hint string, q dns.Question, resp *dns.Msg, rtt time.Duration, err error) {
	if t == nil {
		return
	}
	t.Entries = append(t.Entries, TraceEntry{
		Hint:     hint,
		Question: strings.TrimPrefix(q.String(), ";"),
		RTT:      rtt,
		Response: resp,
		Err:      err,
	})
}

// Dump renders the trace for human consumption. The format may change
// between releases without notice.
func (t *Trace) Dump() string {
	if t == nil {
		return ""
	}

	var b strings.Builder
	for _, e := range t.Entries {
		fmt.Fprintf(&b, "? %s @%s %dms\n", e.Question, e.Hint, e.RTT.Milliseconds())
		if e.Err != nil {
			fmt.Fprintf(&b, "  X %v\n", e.Err)
			continue
		}
		if e.Response == nil {
			continue
		}
		for _, rr := range e.Response.Answer {
			fmt.Fprintf(&b, "  ! %s\n", rr.String())
		}
		for _, rr := range e.Response.Ns {
			fmt.Fprintf(&b, "  ! %s\n", rr.String())
		}
		for _, rr := range e.Response.Extra {
			fmt.Fprintf(&b, "  ! %s\n", rr.String())
		}
	}
	return b.String()
}
