package satellite

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
	"github.com/satfleet/wsc-engine/internal/notify"
	"github.com/satfleet/wsc-engine/internal/wake"
)

type recordingSink struct {
	sent []string
}

func (r *recordingSink) send(text string) error {
	r.sent = append(r.sent, text)
	return nil
}

type fakeEndpoint struct {
	resp *endpoint.Response
	err  error
}

func (f *fakeEndpoint) Send(ctx context.Context, payload map[string]any, sess endpoint.Session) (*endpoint.Response, error) {
	return f.resp, f.err
}
func (f *fakeEndpoint) Stop() {}

func newTestHandler(ep endpoint.Endpoint) (*Handler, *connmgr.Manager) {
	conns := connmgr.New(zerolog.Nop())
	h := &Handler{
		Conns:   conns,
		Arbiter: wake.NewWithWindow(context.Background(), 20*time.Millisecond, zerolog.Nop()),
		Queue:   notify.NewWithTiming(context.Background(), conns, 20*time.Millisecond, 3600*time.Second, zerolog.Nop()),
		Endpoint: func() endpoint.Endpoint {
			if ep == nil {
				return nil
			}
			return ep
		},
		Log: zerolog.Nop(),
	}
	return h, conns
}

func TestDispatchHelloUpdatesIdentity(t *testing.T) {
	h, conns := newTestHandler(nil)
	sink := &recordingSink{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sink.send)

	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"hello":{"hostname":"kitchen","hw_type":"esp32s3"}}`), &f); err != nil {
		t.Fatal(err)
	}
	h.dispatch(context.Background(), sess, f)

	if got := conns.ByHostname("kitchen"); got == nil || got.Handle() != "sock-1" {
		t.Fatal("expected hostname to be applied to the session")
	}
	if sess.Platform() != "ESP32S3" {
		t.Errorf("expected platform to be upper-cased, got %q", sess.Platform())
	}
}

func TestDispatchWakeStartFeedsArbiter(t *testing.T) {
	h, conns := newTestHandler(nil)
	sink := &recordingSink{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sink.send)

	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"wake_start":{"wake_volume":-5.0}}`), &f); err != nil {
		t.Fatal(err)
	}
	h.dispatch(context.Background(), sess, f)

	time.Sleep(60 * time.Millisecond)
	if len(sink.sent) != 1 || !strings.Contains(sink.sent[0], `"won":true`) {
		t.Fatalf("expected the arbiter to resolve a sole participant as winner, got %v", sink.sent)
	}
}

func TestDispatchGoodbyeSignalsClose(t *testing.T) {
	h, conns := newTestHandler(nil)
	sink := &recordingSink{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sink.send)

	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"goodbye":true}`), &f); err != nil {
		t.Fatal(err)
	}
	if outcome := h.dispatch(context.Background(), sess, f); outcome != errGoodbye {
		t.Fatalf("expected errGoodbye, got %v", outcome)
	}
}

func TestDispatchCmdEndpointMissingSendsErrorSpeech(t *testing.T) {
	h, conns := newTestHandler(nil) // no endpoint configured
	sink := &recordingSink{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sink.send)

	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"cmd":{"cmd":"endpoint","data":{"text":"hi"}}}`), &f); err != nil {
		t.Fatal(err)
	}
	h.dispatch(context.Background(), sess, f)

	if len(sink.sent) != 1 {
		t.Fatalf("expected one response, got %v", sink.sent)
	}
	var resp endpoint.Response
	if err := json.Unmarshal([]byte(sink.sent[0]), &resp); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if resp.Result.OK {
		t.Error("expected ok:false when no endpoint is configured")
	}
}

func TestDispatchCmdEndpointSynchronousResponse(t *testing.T) {
	ep := &fakeEndpoint{resp: &endpoint.Response{Result: endpoint.Result{OK: true, Speech: "done"}}}
	h, conns := newTestHandler(ep)
	sink := &recordingSink{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sink.send)

	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"cmd":{"cmd":"endpoint","data":{"text":"hi"}}}`), &f); err != nil {
		t.Fatal(err)
	}
	h.dispatch(context.Background(), sess, f)

	if len(sink.sent) != 1 || !strings.Contains(sink.sent[0], "done") {
		t.Fatalf("expected the synchronous endpoint response to be forwarded, got %v", sink.sent)
	}
}

func TestDispatchCmdEndpointNilResponseSendsNothingYet(t *testing.T) {
	ep := &fakeEndpoint{resp: nil} // async variant: answer arrives later via callback
	h, conns := newTestHandler(ep)
	sink := &recordingSink{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sink.send)

	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"cmd":{"cmd":"endpoint","data":{"text":"hi"}}}`), &f); err != nil {
		t.Fatal(err)
	}
	h.dispatch(context.Background(), sess, f)

	if len(sink.sent) != 0 {
		t.Fatalf("expected no immediate response for an async endpoint, got %v", sink.sent)
	}
}
