package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AngelCh415/leadscore/internal/logging"
	"github.com/AngelCh415/leadscore/internal/models"
)

type fakeSender struct {
	mu      sync.Mutex
	enabled bool
	fail    bool
	got     []LeadEvent
	calls   chan struct{}
}

func newFakeSender(enabled bool) *fakeSender {
	return &fakeSender{enabled: enabled, calls: make(chan struct{}, 16)}
}

func (f *fakeSender) Enabled() bool { return f.enabled }

func (f *fakeSender) Post(_ context.Context, payload any) error {
	f.mu.Lock()
	f.got = append(f.got, payload.(LeadEvent))
	f.mu.Unlock()
	f.calls <- struct{}{}
	if f.fail {
		return errors.New("down")
	}
	return nil
}

func (f *fakeSender) events() []LeadEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LeadEvent(nil), f.got...)
}

func startDispatcher(t *testing.T, send Sender) *Bus {
	t.Helper()
	log := logging.Discard()
	bus := NewBus(log)
	d := NewDispatcher(bus, send, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = bus.Close()
	})
	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not subscribe")
	}
	return bus
}

func waitCall(t *testing.T, f *fakeSender) {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestDispatcherForwardsWantedEvents(t *testing.T) {
	send := newFakeSender(true)
	bus := startDispatcher(t, send)
	ctx := context.Background()

	// no phone: skipped
	if err := bus.PublishLeadCaptured(ctx, models.Lead{ID: "l0", Email: "a@x.io"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.PublishLeadCaptured(ctx, models.Lead{ID: "l1", Phone: "+15550001111", LeadStatus: "curious"}); err != nil {
		t.Fatal(err)
	}
	waitCall(t, send)

	// engaged is not hot: skipped
	_ = bus.PublishStatusChanged(ctx, models.Lead{ID: "l2", LeadStatus: "engaged"}, "curious")
	_ = bus.PublishStatusChanged(ctx, models.Lead{ID: "l3", LeadStatus: "hot", EngagementScore: 50}, "high_intent")
	waitCall(t, send)

	got := send.events()
	if len(got) != 2 {
		t.Fatalf("deliveries = %+v", got)
	}
	if got[0].LeadID != "l1" || got[0].Type != TopicLeadCaptured {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].LeadID != "l3" || got[1].PreviousStatus != "high_intent" || got[1].EngagementScore != 50 {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestDispatcherSkipsWhenDisabled(t *testing.T) {
	send := newFakeSender(false)
	bus := startDispatcher(t, send)
	_ = bus.PublishStatusChanged(context.Background(), models.Lead{ID: "l", LeadStatus: "hot"}, "engaged")

	select {
	case <-send.calls:
		t.Fatal("disabled sender should not be called")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherSurvivesFailedDelivery(t *testing.T) {
	send := newFakeSender(true)
	send.fail = true
	bus := startDispatcher(t, send)
	ctx := context.Background()

	_ = bus.PublishLeadCaptured(ctx, models.Lead{ID: "a", Phone: "1"})
	waitCall(t, send)
	_ = bus.PublishLeadCaptured(ctx, models.Lead{ID: "b", Phone: "2"})
	waitCall(t, send)

	if n := len(send.events()); n != 2 {
		t.Fatalf("deliveries = %d, want 2 (no redelivery)", n)
	}
}

func TestWanted(t *testing.T) {
	cases := []struct {
		ev   LeadEvent
		want bool
	}{
		{LeadEvent{Type: TopicLeadCaptured, Phone: "1"}, true},
		{LeadEvent{Type: TopicLeadCaptured}, false},
		{LeadEvent{Type: TopicStatusChanged, LeadStatus: "hot"}, true},
		{LeadEvent{Type: TopicStatusChanged, LeadStatus: "high_intent"}, false},
		{LeadEvent{Type: "other", Phone: "1"}, false},
	}
	for _, c := range cases {
		if got := wanted(c.ev); got != c.want {
			t.Errorf("wanted(%+v) = %v", c.ev, got)
		}
	}
}
