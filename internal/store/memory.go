package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/scoring"
)

// MemoryStore keeps everything in process. Used when no database is
// configured and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	leads   map[string]*models.Lead
	byEmail map[string]string
	events  []models.Event
	seen    map[string]struct{} // idempotency by event_id
	scored  map[capKey]int      // scored events per lead session and name
	deals   map[string]*models.Deal
	byExtID map[string]string
	spend   map[spendKey]models.AdSpend
	roles   map[string]map[string]struct{}
	now     func() time.Time
}

type spendKey struct{ date, platform, campaign string }

type capKey struct{ lead, session, event string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:   make(map[string]*models.Lead),
		byEmail: make(map[string]string),
		seen:    make(map[string]struct{}),
		scored:  make(map[capKey]int),
		deals:   make(map[string]*models.Deal),
		byExtID: make(map[string]string),
		spend:   make(map[spendKey]models.AdSpend),
		roles:   make(map[string]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// markSeenLocked records key and reports whether it was new.
func (s *MemoryStore) markSeenLocked(key string) bool {
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *MemoryStore) CreateLead(_ context.Context, lead *models.Lead) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEmail[lead.Email]; ok {
		*lead = *s.leads[id]
		return false, nil
	}
	if _, ok := s.leads[lead.ID]; ok {
		return false, fmt.Errorf("lead %s: %w", lead.ID, ErrConflict)
	}
	now := s.now()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	cp := *lead
	s.leads[lead.ID] = &cp
	s.byEmail[lead.Email] = lead.ID
	return true, nil
}

func (s *MemoryStore) GetLead(_ context.Context, id string) (models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return models.Lead{}, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	return *l, nil
}

func (s *MemoryStore) FindLeadByEmail(_ context.Context, email string) (models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return models.Lead{}, fmt.Errorf("lead with email: %w", ErrNotFound)
	}
	return *s.leads[id], nil
}

func (s *MemoryStore) UpdateLead(_ context.Context, id string, p LeadPatch) (models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return models.Lead{}, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	if p.Notes != nil {
		l.Notes = *p.Notes
	}
	if p.Disposition != nil {
		l.Disposition = *p.Disposition
	}
	l.UpdatedAt = s.now()
	return *l, nil
}

func (s *MemoryStore) ApplyEvent(_ context.Context, ev models.Event, rule scoring.Rule) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lead *models.Lead
	if ev.LeadID != "" {
		l, ok := s.leads[ev.LeadID]
		if !ok {
			return ApplyResult{Outcome: OutcomeUnknownLead}, nil
		}
		lead = l
	}

	if _, dup := s.seen[ev.EventID]; dup {
		res := ApplyResult{Outcome: OutcomeDuplicate}
		if lead != nil {
			cp := *lead
			res.Lead = &cp
			res.PreviousStatus = cp.LeadStatus
		}
		return res, nil
	}

	delta := 0
	outcome := OutcomeAnonymous
	if lead != nil {
		delta = rule.Delta(s.scored[capKey{ev.LeadID, ev.SessionID, ev.EventName}])
		outcome = OutcomeApplied
		if delta == 0 && rule.Weight > 0 {
			outcome = OutcomeCapped
		}
	}

	s.markSeenLocked(ev.EventID)
	if delta > 0 {
		s.scored[capKey{ev.LeadID, ev.SessionID, ev.EventName}]++
	}
	ev.ScoreDelta = delta
	ev.CreatedAt = s.now()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = ev.CreatedAt
	}
	s.events = append(s.events, ev)

	res := ApplyResult{Outcome: outcome, ScoreDelta: delta}
	if lead != nil {
		res.PreviousStatus = lead.LeadStatus
		if delta != 0 {
			lead.EngagementScore += delta
			lead.LeadStatus = scoring.Classify(lead.EngagementScore)
			lead.UpdatedAt = ev.CreatedAt
		}
		cp := *lead
		res.Lead = &cp
	}
	return res, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, leadID string) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, e := range s.events {
		if e.LeadID == leadID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateDeal(_ context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deals[d.ID]; ok {
		return fmt.Errorf("deal %s: %w", d.ID, ErrConflict)
	}
	if d.ExternalID != "" {
		if _, ok := s.byExtID[d.ExternalID]; ok {
			return fmt.Errorf("deal external id %s: %w", d.ExternalID, ErrConflict)
		}
	}
	s.insertDealLocked(d)
	return nil
}

func (s *MemoryStore) insertDealLocked(d *models.Deal) {
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if !IsOpenStage(d.Stage) && d.ClosedAt == nil {
		t := now
		d.ClosedAt = &t
	}
	cp := *d
	s.deals[d.ID] = &cp
	if d.ExternalID != "" {
		s.byExtID[d.ExternalID] = d.ID
	}
}

func (s *MemoryStore) UpsertDealByExternalID(_ context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExtID[d.ExternalID]
	if !ok {
		s.insertDealLocked(d)
		return nil
	}
	cur := s.deals[id]
	cur.LeadID = d.LeadID
	cur.Amount = d.Amount
	if d.JobCost > 0 {
		cur.JobCost = d.JobCost
	}
	if cur.ClosedAt == nil {
		cur.ClosedAt = d.ClosedAt
	}
	applyStage(cur, d.Stage, s.now())
	cur.UpdatedAt = s.now()
	*d = *cur
	return nil
}

func (s *MemoryStore) GetDeal(_ context.Context, id string) (models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return models.Deal{}, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return *d, nil
}

func (s *MemoryStore) UpdateDeal(_ context.Context, id string, p DealPatch) (models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return models.Deal{}, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	now := s.now()
	if p.Stage != nil {
		applyStage(d, *p.Stage, now)
	}
	if p.Amount != nil {
		d.Amount = maxf(*p.Amount)
	}
	if p.JobCost != nil {
		d.JobCost = maxf(*p.JobCost)
	}
	d.UpdatedAt = now
	return *d, nil
}

func (s *MemoryStore) UpsertSpend(_ context.Context, rows []models.AdSpend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Spend = maxf(r.Spend)
		r.Clicks = max0(r.Clicks)
		r.Impressions = max0(r.Impressions)
		s.spend[spendKey{r.Date, r.Platform, r.Campaign}] = r
	}
	return nil
}

func (s *MemoryStore) ListSpend(_ context.Context, from, to string) ([]models.AdSpend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AdSpend
	for k, v := range s.spend {
		if k.date >= from && k.date <= to {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Campaign < out[j].Campaign
	})
	return out, nil
}

func (s *MemoryStore) LeadCounts(_ context.Context, from, to time.Time) ([]LeadCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[[2]string]int{}
	for _, l := range s.leads {
		if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
			continue
		}
		counts[[2]string{l.UTMSource, l.UTMCampaign}]++
	}
	out := make([]LeadCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, LeadCount{Source: k[0], Campaign: k[1], Count: n})
	}
	return out, nil
}

func (s *MemoryStore) WonDeals(_ context.Context, from, to time.Time) ([]models.AttributedDeal, error) {
	return s.filterDeals(func(d *models.Deal) bool {
		return d.Stage == models.StageWon && d.ClosedAt != nil &&
			!d.ClosedAt.Before(from) && d.ClosedAt.Before(to)
	}), nil
}

func (s *MemoryStore) OpenDeals(_ context.Context) ([]models.AttributedDeal, error) {
	return s.filterDeals(func(d *models.Deal) bool { return IsOpenStage(d.Stage) }), nil
}

func (s *MemoryStore) filterDeals(keep func(*models.Deal) bool) []models.AttributedDeal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AttributedDeal
	for _, d := range s.deals {
		if !keep(d) {
			continue
		}
		ad := models.AttributedDeal{Deal: *d}
		if l, ok := s.leads[d.LeadID]; ok {
			ad.UTMSource = l.UTMSource
			ad.UTMCampaign = l.UTMCampaign
		}
		out = append(out, ad)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) RolesForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for r := range s.roles[userID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) GrantRole(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[userID] == nil {
		s.roles[userID] = make(map[string]struct{})
	}
	s.roles[userID][role] = struct{}{}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

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
