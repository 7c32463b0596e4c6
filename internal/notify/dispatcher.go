package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/AngelCh415/leadscore/internal/scoring"
)

// Sender delivers a payload to one external endpoint.
type Sender interface {
	Enabled() bool
	Post(ctx context.Context, payload any) error
}

// Dispatcher forwards captured leads with a phone number and leads that
// turned hot to the phone bot. It runs as a supervised service.
type Dispatcher struct {
	bus   *Bus
	send  Sender
	log   *slog.Logger
	ready chan struct{}
	once  sync.Once
}

func NewDispatcher(bus *Bus, send Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{bus: bus, send: send, log: log, ready: make(chan struct{})}
}

func (d *Dispatcher) String() string { return "notify-dispatcher" }

// Ready is closed once the first subscription is in place.
func (d *Dispatcher) Ready() <-chan struct{} { return d.ready }

func (d *Dispatcher) Serve(ctx context.Context) error {
	captured, err := d.bus.Subscribe(ctx, TopicLeadCaptured)
	if err != nil {
		return err
	}
	changed, err := d.bus.Subscribe(ctx, TopicStatusChanged)
	if err != nil {
		return err
	}
	d.once.Do(func() { close(d.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-captured:
			if !ok {
				return errSubscriptionClosed(ctx)
			}
			d.handle(ctx, msg)
		case msg, ok := <-changed:
			if !ok {
				return errSubscriptionClosed(ctx)
			}
			d.handle(ctx, msg)
		}
	}
}

func errSubscriptionClosed(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("notify: subscription closed")
}

// handle always acks: deliveries retry inside the sender, and a redelivered
// message would only hit the same open circuit.
func (d *Dispatcher) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var ev LeadEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		d.log.Warn("drop malformed lead event", slog.String("msg_id", msg.UUID), slog.Any("err", err))
		return
	}
	if !wanted(ev) {
		return
	}
	if !d.send.Enabled() {
		d.log.Debug("phone bot webhook not configured", slog.String("type", ev.Type), slog.String("lead_id", ev.LeadID))
		return
	}
	if err := d.send.Post(ctx, ev); err != nil {
		d.log.Warn("phone bot delivery failed",
			slog.String("type", ev.Type),
			slog.String("lead_id", ev.LeadID),
			slog.Any("err", err))
		return
	}
	d.log.Info("phone bot notified", slog.String("type", ev.Type), slog.String("lead_id", ev.LeadID))
}

func wanted(ev LeadEvent) bool {
	switch ev.Type {
	case TopicLeadCaptured:
		return ev.Phone != ""
	case TopicStatusChanged:
		return ev.LeadStatus == scoring.StatusHot
	}
	return false
}
