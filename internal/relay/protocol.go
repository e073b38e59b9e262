package relay

import "strings"

// DirectivePrefix marks an inbound payload as a directed message:
//
//	/to:<target>:<body>
const DirectivePrefix = "/to:"

const (
	welcomeFormat   = "Добро пожаловать, "
	departureSuffix = " вышел из чата"
	adminPrefix     = "[Сервер]: "
)

// MessageKind classifies relayed traffic.
type MessageKind string

// Message kinds reported to observers and used as metric labels.
const (
	KindBroadcast      MessageKind = "broadcast"
	KindDirect         MessageKind = "direct"
	KindMalformed      MessageKind = "malformed"
	KindAdminBroadcast MessageKind = "admin_broadcast"
	KindAdminDirect    MessageKind = "admin_direct"
)

// Inbound is a parsed client payload.
type Inbound struct {
	Kind   MessageKind
	Target string
	Body   string
}

// ParseInbound interprets one inbound frame.
//
// A payload starting with DirectivePrefix is split on ':' into at most three
// fields; the third field is the body and keeps any further colons. A
// directive with fewer than three fields is KindMalformed and must be dropped.
// Everything else is a broadcast body, verbatim.
func ParseInbound(payload string) Inbound {
	if !strings.HasPrefix(payload, DirectivePrefix) {
		return Inbound{Kind: KindBroadcast, Body: payload}
	}
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) < 3 {
		return Inbound{Kind: KindMalformed, Body: payload}
	}
	return Inbound{Kind: KindDirect, Target: parts[1], Body: parts[2]}
}

// ChatLine formats a relayed message as seen by recipients.
func ChatLine(sender, body string) string {
	return sender + ": " + body
}

// WelcomeLine is the first line a new session receives.
func WelcomeLine(name string) string {
	return welcomeFormat + name + "!"
}

// DepartureLine is broadcast after a session leaves.
func DepartureLine(name string) string {
	return name + departureSuffix
}

// AdminLine prefixes operator messages.
func AdminLine(text string) string {
	return adminPrefix + text
}
