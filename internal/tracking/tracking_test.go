package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AngelCh415/leadscore/internal/logging"
	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/scoring"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/validation"
)

type recPublisher struct {
	mu       sync.Mutex
	captured []models.Lead
	changed  []string
}

func (p *recPublisher) PublishLeadCaptured(_ context.Context, l models.Lead) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = append(p.captured, l)
	return nil
}

func (p *recPublisher) PublishStatusChanged(_ context.Context, l models.Lead, prev string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, prev+"->"+l.LeadStatus)
	return nil
}

func newService(t *testing.T) (*Service, store.Store, *recPublisher) {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &recPublisher{}
	return NewService(st, scoring.DefaultRules(), pub, logging.Discard()), st, pub
}

func seedLead(t *testing.T, st store.Store) string {
	t.Helper()
	l := models.Lead{ID: "lead-1", Email: "a@example.com", LeadStatus: scoring.StatusCurious}
	if _, err := st.CreateLead(context.Background(), &l); err != nil {
		t.Fatal(err)
	}
	return l.ID
}

func TestParseBatchShapes(t *testing.T) {
	single, err := ParseBatch([]byte(`{"event_id":"e1","event_name":"page_view"}`))
	if err != nil || len(single) != 1 || single[0].EventID != "e1" {
		t.Fatalf("single: %v %+v", err, single)
	}
	many, err := ParseBatch([]byte(`{"events":[{"event_id":"a","event_name":"x"},{"event_id":"b","event_name":"y","metadata":{"k":1}}]}`))
	if err != nil || len(many) != 2 {
		t.Fatalf("batch: %v %+v", err, many)
	}
}

func TestParseBatchRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `nope`,
		"array":           `[{"event_id":"a","event_name":"x"}]`,
		"missing id":      `{"event_name":"page_view"}`,
		"empty batch":     `{"events":[]}`,
		"one bad in many": `{"events":[{"event_id":"a","event_name":"x"},{"event_id":"","event_name":"y"}]}`,
		"metadata array":  `{"event_id":"a","event_name":"x","metadata":[1]}`,
		"bad timestamp":   `{"event_id":"a","event_name":"x","occurred_at":"yesterday"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseBatch([]byte(body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseBatchLimit(t *testing.T) {
	body := []byte(`{"events":[`)
	for i := 0; i <= MaxBatch; i++ {
		if i > 0 {
			body = append(body, ',')
		}
		body = append(body, `{"event_id":"e","event_name":"page_view"}`...)
	}
	body = append(body, "]}"...)
	_, err := ParseBatch(body)
	var ve *validation.Error
	if !errors.As(err, &ve) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestTrackDuplicateScoresOnce(t *testing.T) {
	svc, st, _ := newService(t)
	id := seedLead(t, st)
	ctx := context.Background()
	ev := []EventInput{{EventID: "e1", EventName: "quote_scanned", LeadID: id}}

	first, err := svc.Track(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Track(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Outcome != "applied" || first[0].ScoreDelta != 10 {
		t.Fatalf("first = %+v", first[0])
	}
	if second[0].Outcome != "duplicate" || second[0].ScoreDelta != 0 || *second[0].EngagementScore != 10 {
		t.Fatalf("second = %+v", second[0])
	}
	l, _ := st.GetLead(ctx, id)
	if l.EngagementScore != 10 || l.LeadStatus != scoring.StatusEngaged {
		t.Fatalf("lead = %+v", l)
	}
}

func TestUnknownEventDropped(t *testing.T) {
	svc, st, _ := newService(t)
	id := seedLead(t, st)
	res, err := svc.Track(context.Background(), []EventInput{{EventID: "x", EventName: "unknown_event_xyz", LeadID: id}})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Outcome != OutcomeDropped {
		t.Fatalf("res = %+v", res[0])
	}
	l, _ := st.GetLead(context.Background(), id)
	if l.EngagementScore != 0 {
		t.Fatalf("score changed: %d", l.EngagementScore)
	}
}

func TestSignalAllowlist(t *testing.T) {
	svc, st, _ := newService(t)
	id := seedLead(t, st)
	ctx := context.Background()

	res, err := svc.Signal(ctx, []EventInput{
		{EventID: "s1", EventName: "consultation_booked", LeadID: id},
		{EventID: "s2", EventName: "Page_View ", LeadID: id},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Outcome != OutcomeDropped || res[1].Outcome != "applied" {
		t.Fatalf("res = %+v", res)
	}
	l, _ := st.GetLead(ctx, id)
	if l.EngagementScore != 1 {
		t.Fatalf("score = %d", l.EngagementScore)
	}

	// the same name is accepted on the authenticated endpoint
	res, _ = svc.Track(ctx, []EventInput{{EventID: "t1", EventName: "consultation_booked", LeadID: id}})
	if res[0].ScoreDelta != 20 {
		t.Fatalf("track = %+v", res[0])
	}
}

func TestStatusChangePublished(t *testing.T) {
	svc, st, pub := newService(t)
	id := seedLead(t, st)
	ctx := context.Background()

	_, _ = svc.Track(ctx, []EventInput{{EventID: "a", EventName: "consultation_booked", LeadID: id}})
	_, _ = svc.Track(ctx, []EventInput{{EventID: "b", EventName: "consultation_booked", LeadID: id}})
	_, _ = svc.Track(ctx, []EventInput{{EventID: "c", EventName: "page_view", LeadID: id}})
	_, _ = svc.Track(ctx, []EventInput{{EventID: "d", EventName: "consultation_booked", LeadID: id}})

	want := []string{"curious->engaged", "engaged->high_intent", "high_intent->hot"}
	if len(pub.changed) != len(want) {
		t.Fatalf("changes = %v", pub.changed)
	}
	for i := range want {
		if pub.changed[i] != want[i] {
			t.Fatalf("changes = %v", pub.changed)
		}
	}
}

func TestAnonymousAndUnknownLead(t *testing.T) {
	svc, _, _ := newService(t)
	res, err := svc.Signal(context.Background(), []EventInput{
		{EventID: "a", EventName: "page_view"},
		{EventID: "b", EventName: "page_view", LeadID: "missing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Outcome != "anonymous" || res[0].EngagementScore != nil {
		t.Fatalf("anonymous = %+v", res[0])
	}
	if res[1].Outcome != "unknown_lead" {
		t.Fatalf("unknown = %+v", res[1])
	}
}

func TestCaptureLead(t *testing.T) {
	svc, _, pub := newService(t)
	ctx := context.Background()

	l, created, err := svc.CaptureLead(ctx, LeadInput{
		Name: " Ana ", Email: " Ana@Example.COM ", Phone: "(650) 253-0000", UTMSource: "Google",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created || l.Email != "ana@example.com" || l.Phone != "+16502530000" || l.UTMSource != "google" {
		t.Fatalf("lead = %+v created=%v", l, created)
	}
	if l.EmailSHA256 != hashHex("ana@example.com") || l.PhoneSHA256 != hashHex("16502530000") {
		t.Fatal("hashes not computed over normalized values")
	}
	if l.LeadStatus != scoring.StatusCurious || l.Disposition != models.DispositionNew {
		t.Fatalf("defaults = %+v", l)
	}

	again, created, err := svc.CaptureLead(ctx, LeadInput{Email: "ana@example.com"})
	if err != nil || created || again.ID != l.ID {
		t.Fatalf("second capture: %v created=%v id=%s", err, created, again.ID)
	}
	if len(pub.captured) != 1 {
		t.Fatalf("captured published %d times", len(pub.captured))
	}

	_, _, err = svc.CaptureLead(ctx, LeadInput{Email: "not-an-email"})
	var ve *validation.Error
	if !errors.As(err, &ve) || ve.Fields[0].Field != "email" {
		t.Fatalf("want email validation error, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+44 20 7031 3000":     "+442070313000",
		"650-253-0000":         "+16502530000",
		"+1 (650) 253-0000":    "+16502530000",
		"(650) 253-0000 ext 5": "+16502530000",
		"650.253.0000 x1234":   "+16502530000",
		"253-0000":             "",
		"12":                   "",
		"call me":              "",
		"":                     "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCaptureLeadDropsInvalidPhone(t *testing.T) {
	svc, _, _ := newService(t)
	l, _, err := svc.CaptureLead(context.Background(), LeadInput{Email: "bo@example.com", Phone: "253-0000"})
	if err != nil {
		t.Fatal(err)
	}
	if l.Phone != "" || l.PhoneSHA256 != "" {
		t.Fatalf("invalid phone kept: %q %q", l.Phone, l.PhoneSHA256)
	}
}
