// Package endpoint defines the shared contract implemented by every command
// endpoint variant (HA-REST, HA-WS, openHAB, REST, MQTT) and the wire result
// shape they all produce.
package endpoint

import (
	"context"
	"strings"
)

// Session is the minimal view of a satellite session a command endpoint
// needs: enough to correlate an asynchronous reply and to route a callback
// back to the right socket. Implemented by internal/connmgr.Session.
type Session interface {
	Handle() string
	MAC() string
	SendText(text string) error
}

// Result is the endpoint's answer to an intent request: either the
// synchronous payload of Send, or what an asynchronous variant (HA-WS)
// eventually delivers through its Callback.
type Result struct {
	OK     bool   `json:"ok"`
	Speech string `json:"speech"`
}

// Response carries Result in the wire shape every parse_response produces.
type Response struct {
	Result Result `json:"result"`
}

// Wrap builds the wire Response for a Result.
func Wrap(r Result) Response { return Response{Result: r} }

// SanitizeSpeech collapses newlines/carriage-returns to spaces and strips
// leading whitespace, matching the common result contract in §4.C. Empty
// speech is permitted.
func SanitizeSpeech(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimLeft(s, " \t")
}

// Callback delivers an asynchronous Result to the session that originated
// the request it answers.
type Callback func(sess Session, res Result)

// Endpoint is the capability set shared by all five command-endpoint
// variants. Send returns a non-nil *Response when the variant completes the
// action synchronously; a nil Response means the answer will arrive later
// through the Callback passed at construction (HA-WS is the only variant
// that does this today).
type Endpoint interface {
	Send(ctx context.Context, payload map[string]any, sess Session) (*Response, error)
	Stop()
}
