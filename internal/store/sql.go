package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/scoring"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SQLStore persists to Postgres (production) or SQLite (local runs, tests).
// Queries are written with ? placeholders and rebound per driver.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLStore) q(query string) string { return s.db.Rebind(query) }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

type leadRow struct {
	ID              string `db:"id"`
	Email           string `db:"email"`
	Name            string `db:"name"`
	Phone           string `db:"phone"`
	EmailSHA256     string `db:"email_sha256"`
	PhoneSHA256     string `db:"phone_sha256"`
	EngagementScore int    `db:"engagement_score"`
	LeadStatus      string `db:"lead_status"`
	Disposition     string `db:"disposition"`
	Notes           string `db:"notes"`
	SourceTool      string `db:"source_tool"`
	UTMSource       string `db:"utm_source"`
	UTMMedium       string `db:"utm_medium"`
	UTMCampaign     string `db:"utm_campaign"`
	UTMContent      string `db:"utm_content"`
	UTMTerm         string `db:"utm_term"`
	GCLID           string `db:"gclid"`
	FBCLID          string `db:"fbclid"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r leadRow) model() models.Lead {
	return models.Lead{
		ID: r.ID, Email: r.Email, Name: r.Name, Phone: r.Phone,
		EmailSHA256: r.EmailSHA256, PhoneSHA256: r.PhoneSHA256,
		EngagementScore: r.EngagementScore, LeadStatus: r.LeadStatus,
		Disposition: r.Disposition, Notes: r.Notes, SourceTool: r.SourceTool,
		UTMSource: r.UTMSource, UTMMedium: r.UTMMedium, UTMCampaign: r.UTMCampaign,
		UTMContent: r.UTMContent, UTMTerm: r.UTMTerm, GCLID: r.GCLID, FBCLID: r.FBCLID,
		CreatedAt: fromMillis(r.CreatedAt), UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

const leadColumns = `id, email, name, phone, email_sha256, phone_sha256, engagement_score,
	lead_status, disposition, notes, source_tool, utm_source, utm_medium, utm_campaign,
	utm_content, utm_term, gclid, fbclid, created_at, updated_at`

func (s *SQLStore) getLead(ctx context.Context, qr sqlx.QueryerContext, where string, arg any) (models.Lead, error) {
	var row leadRow
	err := sqlx.GetContext(ctx, qr, &row, s.q(`SELECT `+leadColumns+` FROM leads WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lead{}, fmt.Errorf("lead: %w", ErrNotFound)
	}
	if err != nil {
		return models.Lead{}, fmt.Errorf("select lead: %w", err)
	}
	return row.model(), nil
}

func (s *SQLStore) CreateLead(ctx context.Context, lead *models.Lead) (bool, error) {
	now := s.now()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`),
		lead.ID, lead.Email, lead.Name, lead.Phone, lead.EmailSHA256, lead.PhoneSHA256,
		lead.EngagementScore, lead.LeadStatus, lead.Disposition, lead.Notes, lead.SourceTool,
		lead.UTMSource, lead.UTMMedium, lead.UTMCampaign, lead.UTMContent, lead.UTMTerm,
		lead.GCLID, lead.FBCLID, millis(lead.CreatedAt), millis(lead.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	existing, err := s.getLead(ctx, s.db, "email = ?", lead.Email)
	if err != nil {
		return false, err
	}
	*lead = existing
	return false, nil
}

func (s *SQLStore) GetLead(ctx context.Context, id string) (models.Lead, error) {
	return s.getLead(ctx, s.db, "id = ?", id)
}

func (s *SQLStore) FindLeadByEmail(ctx context.Context, email string) (models.Lead, error) {
	return s.getLead(ctx, s.db, "email = ?", email)
}

func (s *SQLStore) UpdateLead(ctx context.Context, id string, p LeadPatch) (models.Lead, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE leads
		SET notes = COALESCE(?, notes), disposition = COALESCE(?, disposition), updated_at = ?
		WHERE id = ?`), nullPtr(p.Notes), nullPtr(p.Disposition), millis(s.now()), id)
	if err != nil {
		return models.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Lead{}, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	return s.GetLead(ctx, id)
}

// ApplyEvent runs in one transaction. The first statement touches the lead
// row so concurrent events for the same lead serialize on Postgres; the
// unique event_id makes the insert the idempotency point.
func (s *SQLStore) ApplyEvent(ctx context.Context, ev models.Event, rule scoring.Rule) (ApplyResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevStatus string
	if ev.LeadID != "" {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE leads SET engagement_score = engagement_score WHERE id = ?`), ev.LeadID)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("lock lead: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ApplyResult{Outcome: OutcomeUnknownLead}, nil
		}
		if err := tx.GetContext(ctx, &prevStatus, s.q(`SELECT lead_status FROM leads WHERE id = ?`), ev.LeadID); err != nil {
			return ApplyResult{}, fmt.Errorf("select lead status: %w", err)
		}
	}

	duplicate := func() (ApplyResult, error) {
		out := ApplyResult{Outcome: OutcomeDuplicate, PreviousStatus: prevStatus}
		if ev.LeadID != "" {
			l, err := s.getLead(ctx, tx, "id = ?", ev.LeadID)
			if err != nil {
				return ApplyResult{}, err
			}
			out.Lead = &l
		}
		return out, nil
	}

	var exists int
	if err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM lead_events WHERE event_id = ?`), ev.EventID); err != nil {
		return ApplyResult{}, fmt.Errorf("check event: %w", err)
	}
	if exists > 0 {
		return duplicate()
	}

	delta := 0
	outcome := OutcomeAnonymous
	if ev.LeadID != "" {
		var prior int
		err := tx.GetContext(ctx, &prior, s.q(`SELECT COUNT(*) FROM lead_events
			WHERE lead_id = ? AND session_id = ? AND event_name = ? AND score_delta > 0`),
			ev.LeadID, ev.SessionID, ev.EventName)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("count session events: %w", err)
		}
		delta = rule.Delta(prior)
		outcome = OutcomeApplied
		if delta == 0 && rule.Weight > 0 {
			outcome = OutcomeCapped
		}
	}

	now := s.now()
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	res, err := tx.ExecContext(ctx, s.q(`INSERT INTO lead_events
		(event_id, lead_id, session_id, event_name, category, page_path, score_delta, metadata, source, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`),
		ev.EventID, ev.LeadID, ev.SessionID, ev.EventName, ev.Category, ev.PagePath,
		delta, string(ev.Metadata), ev.Source, millis(occurred), millis(now))
	if err != nil {
		return ApplyResult{}, fmt.Errorf("insert event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return duplicate()
	}

	out := ApplyResult{Outcome: outcome, ScoreDelta: delta, PreviousStatus: prevStatus}
	if ev.LeadID != "" {
		if delta != 0 {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE leads SET engagement_score = engagement_score + ?, updated_at = ? WHERE id = ?`),
				delta, millis(now), ev.LeadID); err != nil {
				return ApplyResult{}, fmt.Errorf("apply score: %w", err)
			}
			var score int
			if err := tx.GetContext(ctx, &score, s.q(`SELECT engagement_score FROM leads WHERE id = ?`), ev.LeadID); err != nil {
				return ApplyResult{}, fmt.Errorf("select score: %w", err)
			}
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE leads SET lead_status = ? WHERE id = ?`),
				scoring.Classify(score), ev.LeadID); err != nil {
				return ApplyResult{}, fmt.Errorf("update status: %w", err)
			}
		}
		l, err := s.getLead(ctx, tx, "id = ?", ev.LeadID)
		if err != nil {
			return ApplyResult{}, err
		}
		out.Lead = &l
	}
	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

type eventRow struct {
	EventID    string `db:"event_id"`
	LeadID     string `db:"lead_id"`
	SessionID  string `db:"session_id"`
	EventName  string `db:"event_name"`
	Category   string `db:"category"`
	PagePath   string `db:"page_path"`
	ScoreDelta int    `db:"score_delta"`
	Metadata   string `db:"metadata"`
	Source     string `db:"source"`
	OccurredAt int64  `db:"occurred_at"`
	CreatedAt  int64  `db:"created_at"`
}

func (s *SQLStore) ListEvents(ctx context.Context, leadID string) ([]models.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT event_id, lead_id, session_id, event_name, category,
		page_path, score_delta, metadata, source, occurred_at, created_at
		FROM lead_events WHERE lead_id = ? ORDER BY created_at, event_id`), leadID)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	out := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		ev := models.Event{
			EventID: r.EventID, LeadID: r.LeadID, SessionID: r.SessionID, EventName: r.EventName,
			Category: r.Category, PagePath: r.PagePath, ScoreDelta: r.ScoreDelta, Source: r.Source,
			OccurredAt: fromMillis(r.OccurredAt), CreatedAt: fromMillis(r.CreatedAt),
		}
		if r.Metadata != "" {
			ev.Metadata = []byte(r.Metadata)
		}
		out = append(out, ev)
	}
	return out, nil
}

type dealRow struct {
	ID          string         `db:"id"`
	LeadID      string         `db:"lead_id"`
	ExternalID  sql.NullString `db:"external_id"`
	Stage       string         `db:"stage"`
	Amount      float64        `db:"amount"`
	JobCost     float64        `db:"job_cost"`
	ClosedAt    sql.NullInt64  `db:"closed_at"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
	UTMSource   string         `db:"utm_source"`
	UTMCampaign string         `db:"utm_campaign"`
}

func (r dealRow) model() models.Deal {
	d := models.Deal{
		ID: r.ID, LeadID: r.LeadID, ExternalID: r.ExternalID.String, Stage: r.Stage,
		Amount: r.Amount, JobCost: r.JobCost,
		CreatedAt: fromMillis(r.CreatedAt), UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if r.ClosedAt.Valid {
		t := fromMillis(r.ClosedAt.Int64)
		d.ClosedAt = &t
	}
	return d
}

const dealSelect = `SELECT d.id, d.lead_id, d.external_id, d.stage, d.amount, d.job_cost, d.closed_at,
	d.created_at, d.updated_at, COALESCE(l.utm_source, '') AS utm_source, COALESCE(l.utm_campaign, '') AS utm_campaign
	FROM deals d LEFT JOIN leads l ON l.id = d.lead_id`

func nullString(v string) sql.NullString { return sql.NullString{String: v, Valid: v != ""} }

func nullPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// nullFloat clamps negatives to zero.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: maxf(*v), Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func (s *SQLStore) insertDeal(ctx context.Context, d *models.Deal, conflict string) error {
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if !IsOpenStage(d.Stage) && d.ClosedAt == nil {
		t := now
		d.ClosedAt = &t
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO deals
		(id, lead_id, external_id, stage, amount, job_cost, closed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflict),
		d.ID, d.LeadID, nullString(d.ExternalID), d.Stage, d.Amount, d.JobCost,
		nullMillis(d.ClosedAt), millis(d.CreatedAt), millis(d.UpdatedAt))
	return err
}

func (s *SQLStore) CreateDeal(ctx context.Context, d *models.Deal) error {
	if d.ExternalID != "" {
		var n int
		if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM deals WHERE external_id = ?`), d.ExternalID); err != nil {
			return fmt.Errorf("check deal: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("deal external id %s: %w", d.ExternalID, ErrConflict)
		}
	}
	if err := s.insertDeal(ctx, d, ""); err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertDealByExternalID(ctx context.Context, d *models.Deal) error {
	err := s.insertDeal(ctx, d, ` ON CONFLICT (external_id) DO UPDATE SET
		lead_id = excluded.lead_id,
		stage = excluded.stage,
		amount = excluded.amount,
		job_cost = CASE WHEN excluded.job_cost > 0 THEN excluded.job_cost ELSE deals.job_cost END,
		closed_at = CASE WHEN excluded.stage IN ('won', 'lost') THEN COALESCE(deals.closed_at, excluded.closed_at) ELSE NULL END,
		updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("upsert deal: %w", err)
	}
	var row dealRow
	if err := s.db.GetContext(ctx, &row, s.q(dealSelect+` WHERE d.external_id = ?`), d.ExternalID); err != nil {
		return fmt.Errorf("select deal: %w", err)
	}
	*d = row.model()
	return nil
}

func (s *SQLStore) GetDeal(ctx context.Context, id string) (models.Deal, error) {
	var row dealRow
	err := s.db.GetContext(ctx, &row, s.q(dealSelect+` WHERE d.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Deal{}, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Deal{}, fmt.Errorf("select deal: %w", err)
	}
	return row.model(), nil
}

// closed_at transitions for UpdateDeal, mirroring applyStage.
const (
	closedKeep = iota
	closedClear
	closedStamp
)

// UpdateDeal patches only the columns set in p in one statement, so
// concurrent patches touching different columns both land.
func (s *SQLStore) UpdateDeal(ctx context.Context, id string, p DealPatch) (models.Deal, error) {
	closed := closedKeep
	var stage sql.NullString
	if p.Stage != nil {
		stage = sql.NullString{String: *p.Stage, Valid: true}
		closed = closedStamp
		if IsOpenStage(*p.Stage) {
			closed = closedClear
		}
	}
	now := millis(s.now())
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE deals SET
		closed_at = CASE ? WHEN 1 THEN NULL WHEN 2 THEN COALESCE(closed_at, ?) ELSE closed_at END,
		stage = COALESCE(?, stage),
		amount = COALESCE(?, amount),
		job_cost = COALESCE(?, job_cost),
		updated_at = ?
		WHERE id = ?`),
		closed, now, stage, nullFloat(p.Amount), nullFloat(p.JobCost), now, id)
	if err != nil {
		return models.Deal{}, fmt.Errorf("update deal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Deal{}, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return s.GetDeal(ctx, id)
}

func (s *SQLStore) UpsertSpend(ctx context.Context, rows []models.AdSpend) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt := s.q(`INSERT INTO ad_spend (spend_date, platform, campaign, spend, clicks, impressions)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (spend_date, platform, campaign) DO UPDATE SET
		spend = excluded.spend, clicks = excluded.clicks, impressions = excluded.impressions`)
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, stmt, r.Date, r.Platform, r.Campaign,
			maxf(r.Spend), max0(r.Clicks), max0(r.Impressions)); err != nil {
			return fmt.Errorf("upsert spend %s/%s/%s: %w", r.Date, r.Platform, r.Campaign, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type spendRow struct {
	Date        string  `db:"spend_date"`
	Platform    string  `db:"platform"`
	Campaign    string  `db:"campaign"`
	Spend       float64 `db:"spend"`
	Clicks      int     `db:"clicks"`
	Impressions int     `db:"impressions"`
}

func (s *SQLStore) ListSpend(ctx context.Context, from, to string) ([]models.AdSpend, error) {
	var rows []spendRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT spend_date, platform, campaign, spend, clicks, impressions
		FROM ad_spend WHERE spend_date >= ? AND spend_date <= ?
		ORDER BY spend_date, platform, campaign`), from, to)
	if err != nil {
		return nil, fmt.Errorf("select spend: %w", err)
	}
	out := make([]models.AdSpend, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.AdSpend(r))
	}
	return out, nil
}

func (s *SQLStore) LeadCounts(ctx context.Context, from, to time.Time) ([]LeadCount, error) {
	var out []LeadCount
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT utm_source, utm_campaign, COUNT(*) AS n
		FROM leads WHERE created_at >= ? AND created_at < ?
		GROUP BY utm_source, utm_campaign`), millis(from), millis(to))
	if err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}
	return out, nil
}

func (s *SQLStore) attributedDeals(ctx context.Context, where string, args ...any) ([]models.AttributedDeal, error) {
	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, s.q(dealSelect+` WHERE `+where+` ORDER BY d.id`), args...); err != nil {
		return nil, fmt.Errorf("select deals: %w", err)
	}
	out := make([]models.AttributedDeal, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.AttributedDeal{Deal: r.model(), UTMSource: r.UTMSource, UTMCampaign: r.UTMCampaign})
	}
	return out, nil
}

func (s *SQLStore) WonDeals(ctx context.Context, from, to time.Time) ([]models.AttributedDeal, error) {
	return s.attributedDeals(ctx, `d.stage = ? AND d.closed_at >= ? AND d.closed_at < ?`,
		models.StageWon, millis(from), millis(to))
}

func (s *SQLStore) OpenDeals(ctx context.Context) ([]models.AttributedDeal, error) {
	return s.attributedDeals(ctx, `d.stage NOT IN (?, ?)`, models.StageWon, models.StageLost)
}

func (s *SQLStore) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	if err := s.db.SelectContext(ctx, &roles, s.q(`SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`), userID); err != nil {
		return nil, fmt.Errorf("select roles: %w", err)
	}
	return roles, nil
}

func (s *SQLStore) GrantRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		ON CONFLICT (user_id, role) DO NOTHING`), userID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}
