// Package probes routes intercepted Go function calls to header handlers.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│   Probe host (uprobe / replay)          │
//	│   symbol + registers + memory           │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   probes.Processor                      │  ← Symbol routing
//	│   - Looks up the handler by symbol      │
//	│   - Reads arguments via goabi           │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ connresolve ───→ fd + TLS flag
//	          │                    - Offset chain to net.Conn
//	          │                    - One-hop syscallConn unwrap
//	          │
//	          ├──→ http2extract ──→ stream id + fields
//	          │                    - MetaHeadersFrame / writeResHeaders
//	          │
//	          └──→ emitter ───────→ Transport
//	               - sockctx common header
//	                 (tcpseq, socket ids, 5-tuple)
//	               - One record per field + end marker
//
// Data-path failures never surface as errors: an invocation that cannot be
// resolved emits nothing and is counted by telemetry.
package probes
