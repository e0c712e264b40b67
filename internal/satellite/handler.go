// Package satellite implements the Session Handler (§4.G): the per-session
// read loop that decodes inbound protocol frames and dispatches them to
// the Connection Manager, Wake Arbiter, Notify Queue, and Command
// Endpoints, plus the outbound send path. Each client gets one buffered
// send channel (sendBuffer frames) drained by its own writer goroutine;
// when that buffer is full, SendText blocks until a slot frees or the
// session closes, which also holds up a Broadcast loop that reaches it.
package satellite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/configstore"
	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
	"github.com/satfleet/wsc-engine/internal/notify"
	"github.com/satfleet/wsc-engine/internal/wake"
)

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades satellite connections and runs their session loop.
type Handler struct {
	Conns    *connmgr.Manager
	Arbiter  *wake.Arbiter
	Queue    *notify.Queue
	Store    *configstore.Store
	Endpoint func() endpoint.Endpoint // returns the currently active command endpoint, nil if unconfigured
	Log      zerolog.Logger

	nextHandle atomic.Int64
}

// ServeHTTP upgrades the request to a WebSocket and runs the session loop
// until the transport closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	handle := strconv.FormatInt(h.nextHandle.Add(1), 10)
	sendCh := make(chan string, sendBuffer)
	closed := make(chan struct{})

	go h.writePump(conn, sendCh, closed)

	sess := h.Conns.Accept(handle, r.UserAgent(), r.RemoteAddr, func(text string) error {
		select {
		case sendCh <- text:
			return nil
		case <-closed:
			return fmt.Errorf("satellite: session %s closed", handle)
		}
	})

	h.readLoop(r.Context(), conn, sess)

	close(closed)
	h.Conns.Disconnect(handle)
	conn.Close()
}

// writePump is the sole goroutine that calls conn.WriteMessage, so
// outbound frames for this session are written in exactly the order
// SendText queued them (§5 per-session ordering guarantee).
func (h *Handler) writePump(conn *websocket.Conn, sendCh <-chan string, closed chan struct{}) {
	for {
		select {
		case text, ok := <-sendCh:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// readLoop is the per-session receive loop (§4.G): one frame at a time,
// dispatched by priority order so wake_* frames are never delayed behind
// slower-to-process keys.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *connmgr.Session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Log.Warn().Err(apperr.Transport("unexpected close", err)).Str("handle", sess.Handle()).Msg("satellite transport error")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.Log.Warn().Err(err).Str("handle", sess.Handle()).Msg("malformed satellite frame, session continues")
			continue
		}

		if h.dispatch(ctx, sess, frame) == errGoodbye {
			return
		}
	}
}

type dispatchOutcome int

const errGoodbye dispatchOutcome = 1

// dispatch applies §4.G's priority order: wake_start, wake_end,
// notify_done, cmd, goodbye, hello.
func (h *Handler) dispatch(ctx context.Context, sess *connmgr.Session, f inboundFrame) dispatchOutcome {
	switch {
	case f.WakeStart != nil:
		h.Arbiter.FeedWake(sess, f.WakeStart.WakeVolume)

	case f.WakeEnd != nil:
		h.Arbiter.FeedWakeEnd(sess)

	case f.NotifyDone != nil:
		h.Queue.Done(sess, *f.NotifyDone)

	case f.Cmd != nil:
		h.handleCmd(ctx, sess, *f.Cmd)

	case f.Goodbye != nil:
		return errGoodbye

	case f.Hello != nil:
		h.handleHello(sess, *f.Hello)
	}
	return 0
}

func (h *Handler) handleHello(sess *connmgr.Session, hello helloPayload) {
	if hello.Hostname != "" {
		h.Conns.Update(sess.Handle(), connmgr.FieldHostname, hello.Hostname)
	}
	if hello.HwType != "" {
		h.Conns.Update(sess.Handle(), connmgr.FieldPlatform, strings.ToUpper(hello.HwType))
	}
	if len(hello.MACAddr) == 6 {
		h.Conns.UpdateMACBytes(sess.Handle(), hello.MACAddr)
	}
}

func (h *Handler) handleCmd(ctx context.Context, sess *connmgr.Session, cmd cmdPayload) {
	switch cmd.Kind {
	case "get_config":
		cfg, err := h.Store.ReadConfig(ctx)
		if err != nil {
			h.Log.Error().Err(err).Msg("get_config read failed")
			return
		}
		data, err := json.Marshal(struct {
			Config configstore.Config `json:"config"`
		}{Config: cfg})
		if err != nil {
			return
		}
		_ = sess.SendText(string(data))

	case "endpoint":
		ep := h.Endpoint()
		if ep == nil {
			resp := endpoint.Wrap(endpoint.Result{OK: false, Speech: "Error!"})
			h.sendResponse(sess, resp)
			return
		}
		resp, err := ep.Send(ctx, cmd.Data, sess)
		if err != nil {
			h.Log.Warn().Err(err).Str("handle", sess.Handle()).Msg("command endpoint send failed")
			h.sendResponse(sess, endpoint.Wrap(endpoint.Result{OK: false, Speech: "Error!"}))
			return
		}
		if resp != nil {
			h.sendResponse(sess, *resp)
		}
		// resp == nil: the answer arrives later through the endpoint's
		// callback (HA-WS), which pushes back through the connection
		// manager by session handle.
	}
}

func (h *Handler) sendResponse(sess *connmgr.Session, resp endpoint.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = sess.SendText(string(data))
}

