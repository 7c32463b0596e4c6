package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/AngelCh415/leadscore/internal/metrics"
	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/telemetry"
	"github.com/AngelCh415/leadscore/internal/utils"
)

// ErrNotConfigured is returned when the upstream or sink URL is unset.
var ErrNotConfigured = errors.New("not configured")

type Config struct {
	AdsURL     string
	CrmURL     string
	SinkURL    string
	SinkSecret string
}

// Reporter builds the rollup pushed by ExportDay. The export must reflect
// the store as of the call, so it never reads a cached report.
type Reporter interface {
	AttributionFresh(ctx context.Context, q metrics.Query) (models.AttributionReport, error)
}

type ETL struct {
	c   HTTPClient
	st  store.Store
	rep Reporter
	log *slog.Logger
	cfg Config
}

func NewETL(c HTTPClient, st store.Store, rep Reporter, log *slog.Logger, cfg Config) *ETL {
	return &ETL{c: c, st: st, rep: rep, log: log, cfg: cfg}
}

type adsResp []struct {
	Date        string  `json:"date"`
	CampaignID  string  `json:"campaign_id"`
	Channel     string  `json:"channel"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	Cost        float64 `json:"cost"`
	UTMCampaign string  `json:"utm_campaign"`
	UTMSource   string  `json:"utm_source"`
}

type crmResp []struct {
	OpportunityID string  `json:"opportunity_id"`
	ContactEmail  string  `json:"contact_email"`
	Stage         string  `json:"stage"`
	Amount        float64 `json:"amount"`
	JobCost       float64 `json:"job_cost"`
	CreatedAt     string  `json:"created_at"`
	ClosedAt      string  `json:"closed_at"`
}

// RunStats counts what one ingest run did.
type RunStats struct {
	SpendRows    int `json:"spend_rows"`
	Deals        int `json:"deals"`
	UnmatchedCRM int `json:"unmatched_crm"`
	SkippedAds   int `json:"skipped_ads"`
	SkippedCRM   int `json:"skipped_crm"`
}

// Run pulls ad spend and CRM opportunities and upserts them. Rows dated
// before since are skipped. Re-running with the same upstream data leaves
// the store unchanged.
func (e *ETL) Run(ctx context.Context, since *time.Time) (RunStats, error) {
	var stats RunStats
	if e.cfg.AdsURL == "" && e.cfg.CrmURL == "" {
		return stats, fmt.Errorf("ingest: %w", ErrNotConfigured)
	}
	if e.cfg.AdsURL != "" {
		if err := e.ingestAds(ctx, since, &stats); err != nil {
			return stats, err
		}
	}
	if e.cfg.CrmURL != "" {
		if err := e.ingestCRM(ctx, since, &stats); err != nil {
			return stats, err
		}
	}
	telemetry.IngestRowsTotal.WithLabelValues("spend").Add(float64(stats.SpendRows))
	telemetry.IngestRowsTotal.WithLabelValues("deal").Add(float64(stats.Deals))
	e.log.Info("ingest complete",
		slog.Int("spend_rows", stats.SpendRows),
		slog.Int("deals", stats.Deals),
		slog.Int("unmatched_crm", stats.UnmatchedCRM),
		slog.Int("skipped_ads", stats.SkippedAds),
		slog.Int("skipped_crm", stats.SkippedCRM))
	return stats, nil
}

func (e *ETL) ingestAds(ctx context.Context, since *time.Time, stats *RunStats) error {
	var aResp adsResp
	if err := GetJSONWithRetry(ctx, e.c, e.cfg.AdsURL, &aResp); err != nil {
		return fmt.Errorf("fetch ads: %w", err)
	}
	// upstream may repeat a key; last row wins
	rows := make([]models.AdSpend, 0, len(aResp))
	for _, r := range aResp {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(r.Date))
		if err != nil {
			stats.SkippedAds++
			continue
		}
		if since != nil && dayUTC(d).Before(dayUTC(*since)) {
			continue
		}
		rows = append(rows, models.AdSpend{
			Date:        d.Format("2006-01-02"),
			Platform:    strings.ToLower(coalesce(r.UTMSource, coalesce(r.Channel, "unknown"))),
			Campaign:    coalesce(r.UTMCampaign, coalesce(r.CampaignID, "unknown")),
			Spend:       utils.Round2(maxf(r.Cost)),
			Clicks:      max0(r.Clicks),
			Impressions: max0(r.Impressions),
		})
	}
	if err := e.st.UpsertSpend(ctx, rows); err != nil {
		return fmt.Errorf("store spend: %w", err)
	}
	stats.SpendRows = len(rows)
	return nil
}

func (e *ETL) ingestCRM(ctx context.Context, since *time.Time, stats *RunStats) error {
	var cResp crmResp
	if err := GetJSONWithRetry(ctx, e.c, e.cfg.CrmURL, &cResp); err != nil {
		return fmt.Errorf("fetch crm: %w", err)
	}
	for _, r := range cResp {
		if strings.TrimSpace(r.OpportunityID) == "" || r.CreatedAt == "" {
			stats.SkippedCRM++
			continue
		}
		created, err := time.Parse(time.RFC3339, r.CreatedAt)
		if err != nil {
			stats.SkippedCRM++
			continue
		}
		if since != nil && dayUTC(created).Before(dayUTC(*since)) {
			continue
		}
		d := models.Deal{
			ID:         uuid.NewString(),
			ExternalID: strings.TrimSpace(r.OpportunityID),
			Stage:      NormalizeStage(r.Stage),
			Amount:     utils.Round2(maxf(r.Amount)),
			JobCost:    utils.Round2(maxf(r.JobCost)),
			CreatedAt:  created.UTC(),
		}
		if r.ClosedAt != "" && !store.IsOpenStage(d.Stage) {
			if t, err := time.Parse(time.RFC3339, r.ClosedAt); err == nil {
				t = t.UTC()
				d.ClosedAt = &t
			}
		}
		email := strings.ToLower(strings.TrimSpace(r.ContactEmail))
		if email != "" {
			l, err := e.st.FindLeadByEmail(ctx, email)
			switch {
			case err == nil:
				d.LeadID = l.ID
			case errors.Is(err, store.ErrNotFound):
				stats.UnmatchedCRM++
			default:
				return fmt.Errorf("match lead: %w", err)
			}
		} else {
			stats.UnmatchedCRM++
		}
		if err := e.st.UpsertDealByExternalID(ctx, &d); err != nil {
			return fmt.Errorf("store deal %s: %w", d.ExternalID, err)
		}
		stats.Deals++
	}
	return nil
}

// NormalizeStage maps CRM stage names onto deal stages.
func NormalizeStage(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "won", "closed_won", "closed won":
		return models.StageWon
	case "lost", "closed_lost", "closed lost":
		return models.StageLost
	case "quoted", "proposal", "quote_sent":
		return models.StageQuoted
	case "negotiating", "negotiation":
		return models.StageNegotiating
	default:
		return models.StageNew
	}
}

type exportPayload struct {
	Date string           `json:"date"`
	Rows []models.Metrics `json:"rows"`
}

// ExportDay posts the campaign rollup for date to the sink, signed with
// the sink secret. It returns the number of rows sent.
func (e *ETL) ExportDay(ctx context.Context, date time.Time) (int, error) {
	if e.cfg.SinkURL == "" || e.cfg.SinkSecret == "" {
		return 0, fmt.Errorf("export sink: %w", ErrNotConfigured)
	}
	ds := dayUTC(date).Format("2006-01-02")
	rep, err := e.rep.AttributionFresh(ctx, metrics.Query{
		Range:   metrics.Range{From: ds, To: ds},
		GroupBy: metrics.GroupByCampaign,
	})
	if err != nil {
		return 0, fmt.Errorf("build rollup: %w", err)
	}
	if len(rep.Rows) == 0 {
		return 0, nil
	}
	b, err := json.Marshal(exportPayload{Date: ds, Rows: rep.Rows})
	if err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	if err := postSigned(ctx, e.c, e.cfg.SinkURL, e.cfg.SinkSecret, b); err != nil {
		return 0, fmt.Errorf("export sink: %w", err)
	}
	e.log.Info("export complete", slog.String("date", ds), slog.Int("rows", len(rep.Rows)))
	return len(rep.Rows), nil
}

func coalesce(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func max0(i int) int {
	if i < 0 {
		return 0
	}
	return i
}

func maxf(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
