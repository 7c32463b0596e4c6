// Package tracking records engagement events against leads and captures
// new leads from public forms.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/scoring"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/telemetry"
)

// OutcomeDropped marks events that were never stored: unknown names and
// names not allowed on the public endpoint.
const OutcomeDropped = "dropped"

// Publisher receives lead lifecycle events.
type Publisher interface {
	PublishLeadCaptured(ctx context.Context, l models.Lead) error
	PublishStatusChanged(ctx context.Context, l models.Lead, previous string) error
}

type Result struct {
	EventID         string `json:"event_id"`
	Outcome         string `json:"outcome"`
	ScoreDelta      int    `json:"score_delta"`
	EngagementScore *int   `json:"engagement_score,omitempty"`
	LeadStatus      string `json:"lead_status,omitempty"`
}

type Service struct {
	st    store.Store
	rules *scoring.Rules
	pub   Publisher
	log   *slog.Logger
	now   func() time.Time
}

func NewService(st store.Store, rules *scoring.Rules, pub Publisher, log *slog.Logger) *Service {
	return &Service{st: st, rules: rules, pub: pub, log: log, now: time.Now}
}

// Track records events from authenticated clients; every known event is accepted.
func (s *Service) Track(ctx context.Context, events []EventInput) ([]Result, error) {
	return s.process(ctx, models.SourceTrack, events)
}

// Signal records events from the public endpoint; only allowlisted names are kept.
func (s *Service) Signal(ctx context.Context, events []EventInput) ([]Result, error) {
	return s.process(ctx, models.SourceSignal, events)
}

func (s *Service) process(ctx context.Context, source string, events []EventInput) ([]Result, error) {
	out := make([]Result, 0, len(events))
	for _, in := range events {
		r, err := s.apply(ctx, source, in)
		if err != nil {
			return nil, err
		}
		telemetry.EventsTotal.WithLabelValues(source, r.Outcome).Inc()
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, source string, in EventInput) (Result, error) {
	name := scoring.Normalize(in.EventName)
	res := Result{EventID: in.EventID, Outcome: OutcomeDropped}

	rule, known := s.rules.Lookup(name)
	if !known {
		s.log.Info("dropped unknown event", slog.String("event_name", name), slog.String("event_id", in.EventID))
		return res, nil
	}
	if source == models.SourceSignal && !rule.Public {
		s.log.Info("dropped non-public signal", slog.String("event_name", name), slog.String("event_id", in.EventID))
		return res, nil
	}

	ev := models.Event{
		EventID:   in.EventID,
		LeadID:    in.LeadID,
		SessionID: in.SessionID,
		EventName: name,
		Category:  in.Category,
		PagePath:  in.PagePath,
		Metadata:  in.Metadata,
		Source:    source,
	}
	if in.OccurredAt != nil {
		ev.OccurredAt = in.OccurredAt.UTC()
	} else {
		ev.OccurredAt = s.now().UTC()
	}

	ar, err := s.st.ApplyEvent(ctx, ev, rule)
	if err != nil {
		return res, fmt.Errorf("apply event %s: %w", in.EventID, err)
	}
	res.Outcome = string(ar.Outcome)
	res.ScoreDelta = ar.ScoreDelta
	if ar.Lead != nil {
		score := ar.Lead.EngagementScore
		res.EngagementScore = &score
		res.LeadStatus = ar.Lead.LeadStatus
	}
	if ar.ScoreDelta > 0 {
		telemetry.ScorePointsTotal.Add(float64(ar.ScoreDelta))
	}
	if ar.StatusChanged() {
		telemetry.StatusTransitionsTotal.WithLabelValues(ar.Lead.LeadStatus).Inc()
		s.log.Info("lead status changed",
			slog.String("lead_id", ar.Lead.ID),
			slog.String("from", ar.PreviousStatus),
			slog.String("to", ar.Lead.LeadStatus),
			slog.Int("engagement_score", ar.Lead.EngagementScore))
		if err := s.pub.PublishStatusChanged(ctx, *ar.Lead, ar.PreviousStatus); err != nil {
			s.log.Warn("publish status change", slog.String("lead_id", ar.Lead.ID), slog.Any("err", err))
		}
	}
	return res, nil
}
