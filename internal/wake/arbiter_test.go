package wake

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeParticipant struct {
	handle string
	mu     sync.Mutex
	sent   []string
}

func (f *fakeParticipant) Handle() string { return f.handle }

func (f *fakeParticipant) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeParticipant) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

const (
	wonTrue  = `{"wake_result":{"won":true}}`
	wonFalse = `{"wake_result":{"won":false}}`
)

func TestSingleEventAutoWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewWithWindow(ctx, 30*time.Millisecond, zerolog.Nop())
	s1 := &fakeParticipant{handle: "s1"}

	a.FeedWake(s1, -12.0)
	time.Sleep(80 * time.Millisecond)

	if msgs := s1.messages(); len(msgs) != 1 || msgs[0] != wonTrue {
		t.Fatalf("expected single won:true message, got %v", msgs)
	}
}

func TestLoudestWinsWinnerFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewWithWindow(ctx, 50*time.Millisecond, zerolog.Nop())
	s1 := &fakeParticipant{handle: "s1"} // -12.0
	s2 := &fakeParticipant{handle: "s2"} // -9.5, louder

	a.FeedWake(s1, -12.0)
	time.Sleep(10 * time.Millisecond)
	a.FeedWake(s2, -9.5)
	time.Sleep(100 * time.Millisecond)

	if msgs := s2.messages(); len(msgs) != 1 || msgs[0] != wonTrue {
		t.Fatalf("s2 (loudest) should win, got %v", msgs)
	}
	if msgs := s1.messages(); len(msgs) != 1 || msgs[0] != wonFalse {
		t.Fatalf("s1 should lose, got %v", msgs)
	}
}

func TestNegativeInfinityLoses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewWithWindow(ctx, 40*time.Millisecond, zerolog.Nop())
	quiet := &fakeParticipant{handle: "quiet"}
	loud := &fakeParticipant{handle: "loud"}

	a.FeedWake(quiet, math.Inf(-1))
	a.FeedWake(loud, -5.0)
	time.Sleep(90 * time.Millisecond)

	if msgs := loud.messages(); len(msgs) != 1 || msgs[0] != wonTrue {
		t.Fatalf("loud should win over -inf, got %v", msgs)
	}
	if msgs := quiet.messages(); len(msgs) != 1 || msgs[0] != wonFalse {
		t.Fatalf("quiet (-inf) should lose, got %v", msgs)
	}
}

func TestFreshWakeSessionAfterResolve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewWithWindow(ctx, 30*time.Millisecond, zerolog.Nop())
	s1 := &fakeParticipant{handle: "s1"}

	a.FeedWake(s1, -10.0)
	time.Sleep(60 * time.Millisecond) // let first session resolve

	a.FeedWake(s1, -10.0)
	time.Sleep(60 * time.Millisecond) // second, independent session

	if msgs := s1.messages(); len(msgs) != 2 {
		t.Fatalf("expected two independent resolutions, got %v", msgs)
	}
}

func TestWakeEndIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewWithWindow(ctx, 20*time.Millisecond, zerolog.Nop())
	s1 := &fakeParticipant{handle: "s1"}

	a.FeedWakeEnd(s1) // must not panic or affect subsequent election
	a.FeedWake(s1, -1.0)
	time.Sleep(60 * time.Millisecond)

	if msgs := s1.messages(); len(msgs) != 1 || msgs[0] != wonTrue {
		t.Fatalf("wake_end should have no effect, got %v", msgs)
	}
}

