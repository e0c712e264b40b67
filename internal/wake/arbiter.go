// Package wake implements the Wake Arbiter (§4.E): a single-process,
// time-windowed election among satellites that heard the same wake word.
// Modeled as a single actor goroutine per spec.md §9's design note — all
// mutation happens on one task, external callers interact only through
// FeedWake/FeedWakeEnd message passing, never by touching shared state
// directly.
package wake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/metrics"
)

const defaultWindow = 200 * time.Millisecond

// Participant is the minimal view of a satellite session the arbiter needs
// to deliver a win/loss result.
type Participant interface {
	Handle() string
	SendText(text string) error
}

// Event pairs a participant with its measured wake volume (§3 Wake Event).
type Event struct {
	Session Participant
	VolumeDB float64
}

type wakeSession struct {
	id        string
	createdAt time.Time
	events    []Event
	done      bool
}

type feedMsg struct {
	session Participant
	volume  float64
}

// Arbiter runs the single-actor election loop described in §4.E.
type Arbiter struct {
	window time.Duration
	log    zerolog.Logger

	feedCh chan feedMsg
}

// New constructs an Arbiter with the default 200ms window and starts its
// actor goroutine bound to ctx.
func New(ctx context.Context, log zerolog.Logger) *Arbiter {
	return NewWithWindow(ctx, defaultWindow, log)
}

// NewWithWindow constructs an Arbiter with an explicit window (tests use
// this to avoid real-time waits).
func NewWithWindow(ctx context.Context, window time.Duration, log zerolog.Logger) *Arbiter {
	a := &Arbiter{
		window: window,
		log:    log.With().Str("component", "wake_arbiter").Logger(),
		feedCh: make(chan feedMsg, 64),
	}
	go a.run(ctx)
	return a
}

// FeedWake submits a wake_start event from session at the given volume
// (dB). If no Wake Session is currently active, this call starts one and
// schedules its resolution after the window.
func (a *Arbiter) FeedWake(session Participant, volumeDB float64) {
	a.feedCh <- feedMsg{session: session, volume: volumeDB}
}

// FeedWakeEnd handles wake_end, which is accepted and ignored (§4.E.3).
func (a *Arbiter) FeedWakeEnd(Participant) {}

// run is the arbiter's single actor: every mutation of the active wake
// session happens here, on one goroutine.
func (a *Arbiter) run(ctx context.Context) {
	var active *wakeSession
	var resolve <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-a.feedCh:
			if active == nil || active.done {
				active = &wakeSession{
					id:        uuid.NewString(),
					createdAt: time.Now(),
				}
				timer := time.NewTimer(a.window)
				resolve = timer.C
				a.log.Debug().Str("wake_session", active.id).Msg("wake session started")
			}
			active.events = append(active.events, Event{Session: msg.session, VolumeDB: msg.volume})
			metrics.WakeEventsTotal.Inc()

		case <-resolve:
			a.resolve(active)
			active.done = true
			resolve = nil
		}
	}
}

// resolve picks the loudest event (ties broken by insertion order) and
// delivers won:true to the winner before won:false to every loser (§4.E.2,
// §8 property 3).
func (a *Arbiter) resolve(ws *wakeSession) {
	if ws == nil || len(ws.events) == 0 {
		return
	}

	winnerIdx := 0
	for i := 1; i < len(ws.events); i++ {
		if ws.events[i].VolumeDB > ws.events[winnerIdx].VolumeDB {
			winnerIdx = i
		}
	}

	metrics.WakeSessionsTotal.Inc()

	winner := ws.events[winnerIdx]
	if err := winner.Session.SendText(`{"wake_result":{"won":true}}`); err != nil {
		a.log.Warn().Err(err).Str("handle", winner.Session.Handle()).Msg("wake winner send failed")
	}

	losers := make([]Event, 0, len(ws.events)-1)
	for i, e := range ws.events {
		if i != winnerIdx {
			losers = append(losers, e)
		}
	}

	for _, e := range losers {
		if err := e.Session.SendText(`{"wake_result":{"won":false}}`); err != nil {
			a.log.Warn().Err(err).Str("handle", e.Session.Handle()).Msg("wake loser send failed")
		}
	}

	a.log.Info().
		Str("wake_session", ws.id).
		Str("winner", winner.Session.Handle()).
		Int("participants", len(ws.events)).
		Msg("wake session resolved")
}
