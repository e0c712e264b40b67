// Package notify implements the Notify Queue (§4.F): a per-MAC FIFO with
// single-in-flight delivery, a 1s dequeue tick, and 1-hour expiry.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/metrics"
)

const (
	defaultDequeueInterval = 1 * time.Second
	expiryWindow           = 3600 * time.Second
)

// Queue owns every per-MAC FIFO. One writer at a time (add/done/dequeue);
// no reader concurrency is required (§5).
type Queue struct {
	mu       sync.Mutex
	fifos    map[string][]Notification
	conns    *connmgr.Manager
	interval time.Duration
	expiry   time.Duration
	log      zerolog.Logger
}

// New constructs a Queue bound to conns and starts its background dequeue
// loop on ctx with the default 1s interval and 1h expiry.
func New(ctx context.Context, conns *connmgr.Manager, log zerolog.Logger) *Queue {
	return NewWithTiming(ctx, conns, defaultDequeueInterval, expiryWindow, log)
}

// NewWithTiming is New with explicit interval/expiry (tests use this to
// avoid real-time waits).
func NewWithTiming(ctx context.Context, conns *connmgr.Manager, interval, expiry time.Duration, log zerolog.Logger) *Queue {
	q := &Queue{
		fifos:    make(map[string][]Notification),
		conns:    conns,
		interval: interval,
		expiry:   expiry,
		log:      log.With().Str("component", "notify_queue").Logger(),
	}
	go q.run(ctx)
	return q
}

// Add enqueues msg (§4.F "add"). If msg.Hostname resolves to a known MAC,
// the FIFO of that MAC alone receives it; an unresolvable hostname is
// skipped entirely. With no hostname, every known MAC receives a copy:
// each MAC that already has a FIFO plus each MAC of a live session. An absent or negative id is assigned now_ms. Volume,
// when set, must fall in [0,100] (§7/§8); an out-of-range value is
// rejected with an apperr.Config error and never enqueued.
func (q *Queue) Add(msg Notification) error {
	if msg.Volume != nil && (*msg.Volume < 0 || *msg.Volume > 100) {
		return apperr.Config("volume must be between 0 and 100", nil)
	}

	if msg.ID <= 0 {
		msg.ID = nowMS()
	}
	msg = withDefaults(msg)

	var targets []string
	if msg.Hostname != "" {
		sess := q.conns.ByHostname(msg.Hostname)
		if sess == nil {
			return nil
		}
		targets = []string{sess.MAC()}
	} else {
		targets = q.knownMACs()
	}

	q.mu.Lock()
	for _, mac := range targets {
		q.fifos[mac] = append(q.fifos[mac], msg)
	}
	depth := q.totalDepthLocked()
	q.mu.Unlock()

	metrics.NotifyQueueDepth.Set(float64(depth))
	return nil
}

func (q *Queue) knownMACs() []string {
	seen := make(map[string]struct{})
	var macs []string

	q.mu.Lock()
	for mac := range q.fifos {
		if _, ok := seen[mac]; !ok {
			seen[mac] = struct{}{}
			macs = append(macs, mac)
		}
	}
	q.mu.Unlock()

	for _, sess := range q.conns.All() {
		mac := sess.MAC()
		if mac == "" || mac == "unknown" {
			continue
		}
		if _, ok := seen[mac]; !ok {
			seen[mac] = struct{}{}
			macs = append(macs, mac)
		}
	}
	return macs
}

func (q *Queue) totalDepthLocked() int {
	n := 0
	for _, fifo := range q.fifos {
		n += len(fifo)
	}
	return n
}

// Done handles notify_done(session, id) (§4.F "done"): removes the queued
// item matching id from session's MAC queue, clears active-notification
// state, and broadcasts a cancellation record to every live session.
func (q *Queue) Done(sess *connmgr.Session, id int64) {
	mac := sess.MAC()

	q.mu.Lock()
	fifo := q.fifos[mac]
	for i, n := range fifo {
		if n.ID == id {
			q.fifos[mac] = append(fifo[:i], fifo[i+1:]...)
			break
		}
	}
	depth := q.totalDepthLocked()
	q.mu.Unlock()

	q.conns.SetNotificationActive(sess.Handle(), 0)
	metrics.NotifyQueueDepth.Set(float64(depth))

	cancel := cancellationRecord(id)
	data, err := json.Marshal(cancel)
	if err != nil {
		q.log.Error().Err(err).Msg("marshal cancellation record")
		return
	}
	q.conns.Broadcast(fmt.Sprintf(`{"cmd":"notify","data":%s}`, data))
}

// run is the background dequeue loop (§4.F), ticking every q.interval.
func (q *Queue) run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick()
		}
	}
}

// tick scans every MAC's FIFO once, delivering at most one notification
// per MAC per tick (the single-in-flight invariant).
func (q *Queue) tick() {
	now := nowMS()
	expireBefore := now - q.expiry.Milliseconds()

	q.mu.Lock()
	macs := make([]string, 0, len(q.fifos))
	for mac := range q.fifos {
		macs = append(macs, mac)
	}
	q.mu.Unlock()

	for _, mac := range macs {
		q.tickMAC(mac, now, expireBefore)
	}
}

func (q *Queue) tickMAC(mac string, now, expireBefore int64) {
	sess := q.conns.ByMAC(mac)
	if sess == nil {
		return // keep queued until the satellite reconnects
	}
	if q.conns.IsNotificationActive(sess.Handle()) {
		return
	}

	q.mu.Lock()
	fifo := q.fifos[mac]

	var deliverIdx = -1
	remaining := fifo[:0:0]
	for _, n := range fifo {
		switch {
		case deliverIdx != -1:
			remaining = append(remaining, n) // already found our delivery; keep the rest untouched
		case n.ID > now:
			remaining = append(remaining, n) // future-scheduled, leave in place
		case n.ID < expireBefore:
			metrics.NotifyExpiredTotal.Inc() // expired, drop
		default:
			deliverIdx = len(remaining)
			remaining = append(remaining, n) // keep until send succeeds below
		}
	}
	q.fifos[mac] = remaining
	depth := q.totalDepthLocked()
	q.mu.Unlock()

	metrics.NotifyQueueDepth.Set(float64(depth))

	if deliverIdx == -1 {
		return
	}
	q.deliver(sess, remaining[deliverIdx])
}

func (q *Queue) deliver(sess *connmgr.Session, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		q.log.Error().Err(err).Int64("id", n.ID).Msg("marshal notification")
		return
	}

	q.conns.SetNotificationActive(sess.Handle(), n.ID)
	if err := sess.SendText(fmt.Sprintf(`{"cmd":"notify","data":%s}`, data)); err != nil {
		q.log.Warn().Err(err).Str("handle", sess.Handle()).Msg("notify send failed")
		return
	}
	metrics.NotifyDeliveredTotal.Inc()
}

// Depth returns the total number of notifications queued across every MAC,
// used by the §6 GET /api/status diagnostic surface.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalDepthLocked()
}

func nowMS() int64 { return time.Now().UnixMilli() }
