// Package server defines the JSON payloads of the admin API.
package server

import "github.com/Tyrowin/chatrelay/internal/relay"

// BroadcastRequest is the body of POST /admin/broadcast.
type BroadcastRequest struct {
	Text string `json:"text"`
}

// SendRequest is the body of POST /admin/send.
type SendRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// ClientsResponse is returned by GET /admin/clients.
type ClientsResponse struct {
	Running  bool                `json:"running"`
	Count    int                 `json:"count"`
	Names    []string            `json:"names"`
	Sessions []relay.SessionInfo `json:"sessions"`
}

// StatusResponse is the generic admin reply.
type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
