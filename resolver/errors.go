package resolver

import "errors"

// errIdentMismatch is never surfaced to callers of GetHostByName; it only
// causes the current hint to be skipped in favor of the next one.
var errIdentMismatch = errors.New("dns: response ident does not match query")
