// Package server implements the HTTP side of the chat relay.
//
// It carries configuration loading, the WebSocket transport that lets browser
// clients join the same registry as TCP clients, the JSON admin API used in
// place of an operator console, and the routing and lifecycle helpers for the
// HTTP listener.
package server
