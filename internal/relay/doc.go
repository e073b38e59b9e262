// Package relay implements the chat relay engine: the TCP accept loop, the
// per-session read and write loops, the registry of connected sessions, and
// the broadcast/unicast dispatcher that fans chat lines out to peers.
//
// The package is transport-agnostic above the Transport interface. Plain TCP
// connections are framed by newline (see NewLineTransport); other transports,
// such as the WebSocket endpoint in internal/server, attach through
// Server.Attach and share the same registry and dispatcher.
package relay
