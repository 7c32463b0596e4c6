package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/AngelCh415/leadscore/internal/cache"
	"github.com/AngelCh415/leadscore/internal/logging"
	"github.com/AngelCh415/leadscore/internal/metrics"
	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/utils"
)

const adsBody = `[
 {"date":"2025-08-01","campaign_id":"C-1001","channel":"google_ads","clicks":120,"impressions":3000,"cost":45.5,"utm_campaign":"spring","utm_source":"google"},
 {"date":"2025-08-01","campaign_id":"C-2002","channel":"facebook_ads","clicks":-4,"impressions":10,"cost":-3},
 {"date":"2025-07-01","campaign_id":"C-1001","channel":"google_ads","cost":99,"utm_campaign":"spring","utm_source":"google"},
 {"date":"not-a-date","campaign_id":"C-1"}
]`

const crmBody = `[
 {"opportunity_id":"OPP-1","contact_email":" Ana@Example.com ","stage":"closed_won","amount":5200,"job_cost":3100,"created_at":"2025-08-02T10:00:00Z","closed_at":"2025-08-05T10:00:00Z"},
 {"opportunity_id":"OPP-2","contact_email":"nobody@example.com","stage":"proposal","amount":800,"created_at":"2025-08-03T10:00:00Z"},
 {"opportunity_id":"","contact_email":"x@example.com","stage":"won","amount":1,"created_at":"2025-08-03T10:00:00Z"}
]`

func upstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newETL(t *testing.T, st store.Store, cfg Config) *ETL {
	t.Helper()
	log := logging.Discard()
	rep := metrics.NewService(st, cache.Nop{}, 0, log)
	return NewETL(NewHTTPClient(2*time.Second), st, rep, log, cfg)
}

func TestRunUpsertsSpendAndDeals(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	lead := &models.Lead{ID: "lead-ana", Email: "ana@example.com", UTMSource: "google", UTMCampaign: "spring"}
	if _, err := st.CreateLead(ctx, lead); err != nil {
		t.Fatal(err)
	}
	ads, crm := upstream(t, adsBody), upstream(t, crmBody)
	etl := newETL(t, st, Config{AdsURL: ads.URL, CrmURL: crm.URL})

	since := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	stats, err := etl.Run(ctx, &since)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.SpendRows != 2 || stats.SkippedAds != 1 || stats.Deals != 2 || stats.UnmatchedCRM != 1 || stats.SkippedCRM != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	spend, _ := st.ListSpend(ctx, "2025-08-01", "2025-08-01")
	if len(spend) != 2 {
		t.Fatalf("spend = %+v", spend)
	}
	for _, s := range spend {
		if s.Spend < 0 || s.Clicks < 0 {
			t.Fatalf("negative values kept: %+v", s)
		}
	}

	won, _ := st.WonDeals(ctx, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	if len(won) != 1 || won[0].LeadID != "lead-ana" || won[0].ExternalID != "OPP-1" || won[0].JobCost != 3100 {
		t.Fatalf("won = %+v", won)
	}
	if won[0].ClosedAt == nil || won[0].ClosedAt.Day() != 5 {
		t.Fatalf("closed_at from CRM not kept: %v", won[0].ClosedAt)
	}

	// second run is an upsert, not a duplicate
	if _, err := etl.Run(ctx, &since); err != nil {
		t.Fatal(err)
	}
	open, _ := st.OpenDeals(ctx)
	if len(open) != 1 || open[0].Stage != models.StageQuoted {
		t.Fatalf("open deals after rerun = %+v", open)
	}
}

func TestRunNotConfigured(t *testing.T) {
	etl := newETL(t, store.NewMemoryStore(), Config{})
	if _, err := etl.Run(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestExportDaySignsPayload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_ = st.UpsertSpend(ctx, []models.AdSpend{
		{Date: "2025-08-01", Platform: "google", Campaign: "spring", Spend: 40, Clicks: 8},
		{Date: "2025-08-02", Platform: "google", Campaign: "spring", Spend: 99},
	})

	var gotSig string
	var got exportPayload
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		if gotSig != Sign("sink-secret", b) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sink.Close()

	etl := newETL(t, st, Config{SinkURL: sink.URL, SinkSecret: "sink-secret"})
	n, err := etl.ExportDay(ctx, time.Date(2025, 8, 1, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExportDay: %v", err)
	}
	if n != 1 || got.Date != "2025-08-01" || len(got.Rows) != 1 || got.Rows[0].Spend != 40 || got.Rows[0].Campaign != "spring" {
		t.Fatalf("n=%d payload=%+v", n, got)
	}
}

func TestExportDayBypassesReportCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_ = st.UpsertSpend(ctx, []models.AdSpend{{Date: "2025-08-01", Platform: "google", Campaign: "spring", Spend: 40}})

	log := logging.Discard()
	rep := metrics.NewService(st, cache.NewMemory(64), time.Hour, log)
	day := metrics.Query{Range: metrics.Range{From: "2025-08-01", To: "2025-08-01"}, GroupBy: metrics.GroupByCampaign}
	if _, err := rep.Attribution(ctx, day); err != nil {
		t.Fatal(err)
	}
	_ = st.UpsertSpend(ctx, []models.AdSpend{
		{Date: "2025-08-01", Platform: "google", Campaign: "spring", Spend: 75.25},
		{Date: "2025-08-01", Platform: "meta", Campaign: "fall", Spend: 10},
	})

	var got exportPayload
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sink.Close()

	etl := NewETL(NewHTTPClient(2*time.Second), st, rep, log, Config{SinkURL: sink.URL, SinkSecret: "s"})
	n, err := etl.ExportDay(ctx, time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExportDay: %v", err)
	}
	if n != 2 || len(got.Rows) != 2 || got.Rows[0].Spend != 75.25 || got.Rows[1].Platform != "meta" {
		t.Fatalf("export sent stale rollup: n=%d rows=%+v", n, got.Rows)
	}
}

func TestIngestRoundsCostToCents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ads := upstream(t, `[{"date":"2025-08-01","campaign_id":"C-1","utm_source":"google","cost":12.346}]`)
	etl := newETL(t, st, Config{AdsURL: ads.URL})
	if _, err := etl.Run(ctx, nil); err != nil {
		t.Fatal(err)
	}
	spend, _ := st.ListSpend(ctx, "2025-08-01", "2025-08-01")
	if len(spend) != 1 || spend[0].Spend != utils.Round2(12.346) || spend[0].Spend != 12.35 {
		t.Fatalf("spend = %+v", spend)
	}
}

func TestExportDayNotConfigured(t *testing.T) {
	etl := newETL(t, store.NewMemoryStore(), Config{SinkURL: "http://example.invalid"})
	if _, err := etl.ExportDay(context.Background(), time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestWebhookPosterCircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewWebhookPoster("phone_bot", NewHTTPClient(time.Second), srv.URL, "s", logging.Discard())
	p.backoff = utils.NewBackoff(time.Millisecond, 2)

	ctx := context.Background()
	_ = p.Post(ctx, map[string]string{"a": "b"}) // 3 attempts
	_ = p.Post(ctx, map[string]string{"a": "b"}) // 2 more trip the breaker
	before := calls.Load()
	err := p.Post(ctx, map[string]string{"a": "b"})
	if err == nil {
		t.Fatal("expected error with open circuit")
	}
	if calls.Load() != before {
		t.Fatalf("open circuit should not reach the server (%d -> %d)", before, calls.Load())
	}
}

func TestWebhookPosterDelivers(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Signature") == Sign("s", b) {
			sig = "valid"
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPoster("phone_bot", NewHTTPClient(time.Second), srv.URL, "s", logging.Discard())
	if err := p.Post(context.Background(), map[string]string{"type": "lead.captured"}); err != nil {
		t.Fatal(err)
	}
	if sig != "valid" {
		t.Fatal("signature missing or wrong")
	}

	off := NewWebhookPoster("phone_bot", NewHTTPClient(time.Second), "", "", logging.Discard())
	if off.Enabled() || !errors.Is(off.Post(context.Background(), 1), ErrNotConfigured) {
		t.Fatal("empty url should report not configured")
	}
}
