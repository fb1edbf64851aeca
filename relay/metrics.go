package relay

import "expvar"

// stats holds process-wide relay counters, published under "relay" at
// /debug/vars.
var stats = expvar.NewMap("relay")

const (
	statRequests    = "requests"
	statRejected    = "rejected"
	statActive      = "streams_active"
	statCompleted   = "streams_completed"
	statTruncated   = "streams_truncated"
	statDisconnects = "client_disconnects"
	statBytes       = "bytes_relayed"
)
