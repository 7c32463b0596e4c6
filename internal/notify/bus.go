// Package notify carries lead lifecycle events from request handlers to
// background deliveries.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/AngelCh415/leadscore/internal/models"
)

const (
	TopicLeadCaptured  = "lead.captured"
	TopicStatusChanged = "lead.status_changed"
)

// LeadEvent is the payload of both topics.
type LeadEvent struct {
	Type            string    `json:"type"`
	LeadID          string    `json:"lead_id"`
	Name            string    `json:"name,omitempty"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	SourceTool      string    `json:"source_tool,omitempty"`
	UTMSource       string    `json:"utm_source,omitempty"`
	UTMCampaign     string    `json:"utm_campaign,omitempty"`
	EngagementScore int       `json:"engagement_score"`
	LeadStatus      string    `json:"lead_status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func newLeadEvent(typ string, l models.Lead) LeadEvent {
	return LeadEvent{
		Type:            typ,
		LeadID:          l.ID,
		Name:            l.Name,
		Email:           l.Email,
		Phone:           l.Phone,
		SourceTool:      l.SourceTool,
		UTMSource:       l.UTMSource,
		UTMCampaign:     l.UTMCampaign,
		EngagementScore: l.EngagementScore,
		LeadStatus:      l.LeadStatus,
		OccurredAt:      time.Now().UTC(),
	}
}

// Bus is an in-process pub/sub for lead events.
type Bus struct {
	ps  *gochannel.GoChannel
	log *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(log))
	return &Bus{ps: ps, log: log}
}

func (b *Bus) PublishLeadCaptured(ctx context.Context, l models.Lead) error {
	return b.publish(ctx, TopicLeadCaptured, newLeadEvent(TopicLeadCaptured, l))
}

func (b *Bus) PublishStatusChanged(ctx context.Context, l models.Lead, previous string) error {
	ev := newLeadEvent(TopicStatusChanged, l)
	ev.PreviousStatus = previous
	return b.publish(ctx, TopicStatusChanged, ev)
}

func (b *Bus) publish(ctx context.Context, topic string, ev LeadEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("lead_id", ev.LeadID)
	if err := b.ps.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of messages on topic; it closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.ps.Subscribe(ctx, topic)
}

func (b *Bus) Close() error { return b.ps.Close() }
