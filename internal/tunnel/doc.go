// Package tunnel implements the broker core: persistent agent tunnels and
// request/response correlation over them.
//
// # Overview
//
// Each desktop agent holds one long-lived, authenticated websocket to the
// gateway. Stateless HTTP clients never talk to an agent directly;
// instead the gateway relays request/response and streamed-payload
// traffic over that tunnel. No inbound ports are required on the agent
// side.
//
// # Components
//
//   - Acceptor: upgrades and authenticates incoming agent connections,
//     binds them in the Registry, and feeds inbound envelopes to the
//     Broker. Unauthenticated connections are closed with a
//     policy-violation code (1008).
//   - Registry: identity -> live connection, plus durable device records
//     that survive disconnect. Online status is always derived from the
//     live map.
//   - Broker: assigns a uuid requestId to every outbound message,
//     remembers the ResponseSink to deliver the answer to, and arms a
//     per-request inactivity timeout.
//   - ResponseSink: one abstraction over "pipe into a live HTTP
//     response" (StreamSink) and "resolve a single awaited value"
//     (PromiseSink).
//
// # Wire protocol
//
// JSON envelopes over the websocket:
//
//	gateway -> agent: {"requestId", "action", "payload"}
//	agent -> gateway: {"requestId", "error"?, "payload"?, "isFile"?}
//
// A response payload may be a discriminated stream frame:
//
//	{"type":"start", "statusCode"?, "headers"?, "filename"?, "size"?}
//	{"type":"chunk", "data":"<base64>"}
//	{"type":"end"}
//
// Absence of the discriminator means the payload is one JSON value
// delivered as the entire response body. isFile marks the legacy
// single-shot file path kept for older agents.
//
// # Concurrency
//
// Many requests are in flight per agent at once, multiplexed by
// requestId; chunk ordering within one request is the ordering of the
// underlying connection. The pending table is lock-protected and entries
// are removed under the lock, so a request reaches exactly one terminal
// outcome even when a response races the timeout. Late, duplicate, or
// unparsable frames are discarded silently.
package tunnel
