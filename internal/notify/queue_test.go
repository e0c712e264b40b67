package notify

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/connmgr"
)

type recordingSocket struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSocket) send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSocket) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func setup(t *testing.T) (*connmgr.Manager, *recordingSocket) {
	t.Helper()
	conns := connmgr.New(zerolog.Nop())
	sock := &recordingSocket{}
	sess := conns.Accept("sock-1", "ua", "10.0.0.1:1", sock.send)
	conns.Update("sock-1", connmgr.FieldMAC, "aa:bb:cc:dd:ee:ff")
	_ = sess
	return conns, sock
}

func TestFIFOOrderAndExpiry(t *testing.T) {
	conns, sock := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 20*time.Millisecond, 3600*time.Second, zerolog.Nop())

	now := nowMS()
	oldText := "old"
	hiText := "hi"
	q.Add(Notification{ID: now - 7200000, Text: &oldText}) // expired: older than 1h
	q.Add(Notification{ID: now, Text: &hiText})

	time.Sleep(80 * time.Millisecond)

	msgs := sock.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one delivery (old expired), got %v", msgs)
	}
	if !strings.Contains(msgs[0], `"hi"`) {
		t.Fatalf("expected the non-expired notification to be delivered, got %s", msgs[0])
	}
}

func TestSingleInFlight(t *testing.T) {
	conns, sock := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 20*time.Millisecond, 3600*time.Second, zerolog.Nop())

	t1 := "first"
	t2 := "second"
	q.Add(Notification{Text: &t1})
	q.Add(Notification{Text: &t2})

	time.Sleep(60 * time.Millisecond)

	msgs := sock.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected only one in-flight delivery, got %v", msgs)
	}
	if !strings.Contains(msgs[0], "first") {
		t.Fatalf("expected FIFO order (first enqueued delivered first), got %s", msgs[0])
	}
}

func TestDoneDeliversNextAndBroadcastsCancel(t *testing.T) {
	conns, sock := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 15*time.Millisecond, 3600*time.Second, zerolog.Nop())

	t1 := "first"
	t2 := "second"
	q.Add(Notification{Text: &t1})
	q.Add(Notification{Text: &t2})

	time.Sleep(40 * time.Millisecond)
	msgs := sock.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected first notification delivered, got %v", msgs)
	}

	// Read the delivered id from the head of the MAC's FIFO.
	sess := conns.ByMAC("aa:bb:cc:dd:ee:ff")
	q.mu.Lock()
	firstID := q.fifos["aa:bb:cc:dd:ee:ff"][0].ID
	q.mu.Unlock()

	q.Done(sess, firstID)

	time.Sleep(40 * time.Millisecond)

	msgs = sock.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected cancel broadcast + second delivery, got %v", msgs)
	}
	foundCancel := false
	for _, m := range msgs {
		if strings.Contains(m, `"cancel":true`) && strings.Contains(m, strconv.FormatInt(firstID, 10)) {
			foundCancel = true
		}
	}
	if !foundCancel {
		t.Fatalf("expected a cancellation broadcast for id %d, got %v", firstID, msgs)
	}
}

func TestUnresolvableHostnameSkipped(t *testing.T) {
	conns := connmgr.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 15*time.Millisecond, 3600*time.Second, zerolog.Nop())

	text := "hello"
	q.Add(Notification{Hostname: "never-connected", Text: &text})

	time.Sleep(40 * time.Millisecond)

	if q.Depth() != 0 {
		t.Fatalf("unresolvable hostname should be skipped entirely, depth=%d", q.Depth())
	}
}

func TestAddRejectsVolumeOutOfRange(t *testing.T) {
	conns, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 15*time.Millisecond, 3600*time.Second, zerolog.Nop())

	tooLow := -1
	tooHigh := 101
	if err := q.Add(Notification{Volume: &tooLow}); err == nil {
		t.Fatal("expected an error for volume below 0")
	}
	if err := q.Add(Notification{Volume: &tooHigh}); err == nil {
		t.Fatal("expected an error for volume above 100")
	}
	if q.Depth() != 0 {
		t.Fatalf("rejected notifications must not be enqueued, depth=%d", q.Depth())
	}
}

func TestAddAcceptsVolumeBoundaries(t *testing.T) {
	conns, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 15*time.Millisecond, 3600*time.Second, zerolog.Nop())

	lo, hi := 0, 100
	if err := q.Add(Notification{Volume: &lo}); err != nil {
		t.Fatalf("volume 0 should be accepted: %v", err)
	}
	if err := q.Add(Notification{Volume: &hi}); err != nil {
		t.Fatalf("volume 100 should be accepted: %v", err)
	}
	if q.Depth() != 2 {
		t.Fatalf("expected both boundary notifications enqueued, depth=%d", q.Depth())
	}
}

func TestReconnectContinuity(t *testing.T) {
	conns, sock := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWithTiming(ctx, conns, 15*time.Millisecond, 3600*time.Second, zerolog.Nop())

	t1 := "one"
	t2 := "two"
	q.Add(Notification{Text: &t1})
	q.Add(Notification{Text: &t2})

	conns.Disconnect("sock-1")
	time.Sleep(40 * time.Millisecond)

	if len(sock.messages()) != 0 {
		t.Fatal("disconnected satellite should not receive deliveries")
	}
	if q.Depth() != 2 {
		t.Fatalf("queued notifications should survive disconnect, depth=%d", q.Depth())
	}

	conns.Accept("sock-1", "ua", "10.0.0.1:1", sock.send)
	conns.Update("sock-1", connmgr.FieldMAC, "aa:bb:cc:dd:ee:ff")

	time.Sleep(40 * time.Millisecond)

	if len(sock.messages()) == 0 {
		t.Fatal("expected delivery to resume after reconnect under the same MAC")
	}
}
