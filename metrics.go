package quadsocket

import "expvar"

// Process-wide counters, published under /debug/vars as "quadsocket".
var stats = expvar.NewMap("quadsocket")

const (
	statConnsActive  = "connections_active"
	statConnsTotal   = "connections_total"
	statMessagesIn   = "messages_in"
	statMessagesOut  = "messages_out"
	statSendFailures = "send_failures"
)

func statKey(t Transport, name string) string {
	return t.String() + "." + name
}

func countConnOpen(t Transport) {
	stats.Add(statKey(t, statConnsActive), 1)
	stats.Add(statKey(t, statConnsTotal), 1)
}

func countConnClose(t Transport) {
	stats.Add(statKey(t, statConnsActive), -1)
}

func countMessageIn(t Transport) {
	stats.Add(statKey(t, statMessagesIn), 1)
}

func countMessageOut(t Transport, err error) {
	if err != nil {
		stats.Add(statKey(t, statSendFailures), 1)
		return
	}
	stats.Add(statKey(t, statMessagesOut), 1)
}
