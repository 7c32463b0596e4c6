// Package metrics builds the admin revenue, attribution and profit reports
// from ad spend, lead counts and won deals.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AngelCh415/leadscore/internal/cache"
	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/telemetry"
	"github.com/AngelCh415/leadscore/internal/utils"
)

// Source is the slice of the store the reports read.
type Source interface {
	ListSpend(ctx context.Context, from, to string) ([]models.AdSpend, error)
	LeadCounts(ctx context.Context, from, to time.Time) ([]store.LeadCount, error)
	WonDeals(ctx context.Context, from, to time.Time) ([]models.AttributedDeal, error)
	OpenDeals(ctx context.Context) ([]models.AttributedDeal, error)
}

type Service struct {
	st    Source
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

func NewService(st Source, c cache.Cache, ttl time.Duration, log *slog.Logger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{st: st, cache: c, ttl: ttl, log: log}
}

// Attribution returns one row per platform or platform/campaign, sorted by
// spend descending.
func (s *Service) Attribution(ctx context.Context, q Query) (models.AttributionReport, error) {
	var rep models.AttributionReport
	if s.cached(ctx, attributionKey(q), &rep) {
		return page(rep, q), nil
	}
	return s.AttributionFresh(ctx, q)
}

// AttributionFresh rebuilds the rollup from the store without reading the
// cache, then refreshes the cached copy.
func (s *Service) AttributionFresh(ctx context.Context, q Query) (models.AttributionReport, error) {
	rows, err := s.rollup(ctx, q)
	if err != nil {
		return models.AttributionReport{}, err
	}
	rep := models.AttributionReport{From: q.From, To: q.To, GroupBy: q.GroupBy, Rows: rows}
	s.store(ctx, attributionKey(q), rep)
	return page(rep, q), nil
}

func attributionKey(q Query) string {
	return fmt.Sprintf("attribution:%s:%s:%s:%s", q.From, q.To, q.GroupBy, q.platformKey())
}

func page(rep models.AttributionReport, q Query) models.AttributionReport {
	limit, offset := clampLimitOffset(q.Limit, q.Offset, len(rep.Rows))
	rep.Rows = paginate(rep.Rows, limit, offset)
	return rep
}

// Revenue summarizes won deals closed in the range and the open pipeline,
// limited to the query's platforms when any are set.
func (s *Service) Revenue(ctx context.Context, q Query) (models.RevenueReport, error) {
	key := fmt.Sprintf("revenue:%s:%s:%s", q.From, q.To, q.platformKey())
	var rep models.RevenueReport
	if s.cached(ctx, key, &rep) {
		return rep, nil
	}
	from, to := q.bounds()
	won, err := s.st.WonDeals(ctx, from, to)
	if err != nil {
		return models.RevenueReport{}, fmt.Errorf("won deals: %w", err)
	}
	open, err := s.st.OpenDeals(ctx)
	if err != nil {
		return models.RevenueReport{}, fmt.Errorf("open deals: %w", err)
	}

	byDay := map[string]*models.RevenueDay{}
	days := q.days()
	daily := make([]models.RevenueDay, len(days))
	for i, d := range days {
		daily[i].Date = d
		byDay[d] = &daily[i]
	}
	rep = models.RevenueReport{From: q.From, To: q.To}
	for _, d := range won {
		if !q.wantPlatform(canonicalPlatform(d.UTMSource)) {
			continue
		}
		rep.WonDeals++
		rep.Revenue += d.Amount
		if d.ClosedAt != nil {
			if day, ok := byDay[d.ClosedAt.UTC().Format(dateLayout)]; ok {
				day.WonDeals++
				day.Revenue = utils.Round2(day.Revenue + d.Amount)
			}
		}
	}
	for _, d := range open {
		if !q.wantPlatform(canonicalPlatform(d.UTMSource)) {
			continue
		}
		rep.OpenDeals++
		rep.PipelineValue += d.Amount
	}
	rep.Revenue = utils.Round2(rep.Revenue)
	rep.PipelineValue = utils.Round2(rep.PipelineValue)
	rep.AvgDealSize = ratio(rep.Revenue, float64(rep.WonDeals), utils.Round2)
	rep.Daily = daily
	s.store(ctx, key, rep)
	return rep, nil
}

// ExecutiveProfit is the platform rollup plus totals across it.
func (s *Service) ExecutiveProfit(ctx context.Context, q Query) (models.ProfitReport, error) {
	q.GroupBy = GroupByPlatform
	key := fmt.Sprintf("profit:%s:%s:%s", q.From, q.To, q.platformKey())
	var rep models.ProfitReport
	if s.cached(ctx, key, &rep) {
		return rep, nil
	}
	rows, err := s.rollup(ctx, q)
	if err != nil {
		return models.ProfitReport{}, err
	}
	var t models.ProfitTotals
	for _, m := range rows {
		t.Revenue += m.Revenue
		t.JobCost += m.JobCost
		t.AdSpend += m.Spend
		t.Leads += m.Leads
		t.WonDeals += m.WonDeals
	}
	t.Revenue = utils.Round2(t.Revenue)
	t.JobCost = utils.Round2(t.JobCost)
	t.AdSpend = utils.Round2(t.AdSpend)
	t.GrossProfit = utils.Round2(t.Revenue - t.JobCost)
	t.NetProfit = utils.Round2(t.GrossProfit - t.AdSpend)
	t.Margin = ratio(t.NetProfit, t.Revenue, utils.Round3)
	t.ROAS = ratio(t.Revenue, t.AdSpend, utils.Round2)
	t.CPA = ratio(t.AdSpend, float64(t.Leads), utils.Round2)

	rep = models.ProfitReport{From: q.From, To: q.To, Totals: t, ByPlatform: rows}
	s.store(ctx, key, rep)
	return rep, nil
}

func (s *Service) rollup(ctx context.Context, q Query) ([]models.Metrics, error) {
	from, to := q.bounds()
	spend, err := s.st.ListSpend(ctx, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("spend: %w", err)
	}
	leads, err := s.st.LeadCounts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("lead counts: %w", err)
	}
	won, err := s.st.WonDeals(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("won deals: %w", err)
	}

	acc := map[models.RollupKey]*models.Rollup{}
	get := func(platform, campaign string) *models.Rollup {
		k := models.RollupKey{Platform: canonicalPlatform(platform)}
		if q.GroupBy == GroupByCampaign {
			k.Campaign = canonicalCampaign(campaign)
		}
		if !q.wantPlatform(k.Platform) {
			return nil
		}
		r, ok := acc[k]
		if !ok {
			r = &models.Rollup{Key: k}
			acc[k] = r
		}
		return r
	}

	for _, sp := range spend {
		if r := get(sp.Platform, sp.Campaign); r != nil {
			r.Spend += sp.Spend
			r.Clicks += sp.Clicks
			r.Impressions += sp.Impressions
		}
	}
	for _, lc := range leads {
		if r := get(lc.Source, lc.Campaign); r != nil {
			r.Leads += lc.Count
		}
	}
	for _, d := range won {
		if r := get(d.UTMSource, d.UTMCampaign); r != nil {
			r.WonDeals++
			r.Revenue += d.Amount
			r.JobCost += d.JobCost
		}
	}

	out := make([]models.Metrics, 0, len(acc))
	for _, r := range acc {
		out = append(out, derive(*r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spend != out[j].Spend {
			return out[i].Spend > out[j].Spend
		}
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Campaign < out[j].Campaign
	})
	return out, nil
}

// derive computes profit and ratio columns; ratios with a zero
// denominator are nil.
func derive(r models.Rollup) models.Metrics {
	m := models.Metrics{
		Platform:    r.Key.Platform,
		Campaign:    r.Key.Campaign,
		Spend:       utils.Round2(r.Spend),
		Clicks:      r.Clicks,
		Impressions: r.Impressions,
		Leads:       r.Leads,
		WonDeals:    r.WonDeals,
		Revenue:     utils.Round2(r.Revenue),
		JobCost:     utils.Round2(r.JobCost),
	}
	m.GrossProfit = utils.Round2(r.Revenue - r.JobCost)
	m.NetProfit = utils.Round2(r.Revenue - r.JobCost - r.Spend)
	m.ROAS = ratio(r.Revenue, r.Spend, utils.Round2)
	m.CPA = ratio(r.Spend, float64(r.Leads), utils.Round2)
	m.CPC = ratio(r.Spend, float64(r.Clicks), utils.Round3)
	m.CVRLeadToWon = ratio(float64(r.WonDeals), float64(r.Leads), utils.Round3)
	return m
}

func ratio(num, den float64, round func(float64) float64) *float64 {
	if den == 0 {
		return nil
	}
	v := round(num / den)
	return &v
}

func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.Get(ctx, key, dst)
	switch {
	case err != nil:
		telemetry.ReportCacheTotal.WithLabelValues("error").Inc()
		s.log.Warn("report cache get", slog.String("key", key), slog.String("err", err.Error()))
		return false
	case ok:
		telemetry.ReportCacheTotal.WithLabelValues("hit").Inc()
		return true
	default:
		telemetry.ReportCacheTotal.WithLabelValues("miss").Inc()
		return false
	}
}

func (s *Service) store(ctx context.Context, key string, v any) {
	if err := s.cache.Set(ctx, key, v, s.ttl); err != nil {
		s.log.Warn("report cache set", slog.String("key", key), slog.String("err", err.Error()))
	}
}
