package store

// schema is applied statement by statement on open. Types and conflict
// clauses are chosen to run unchanged on Postgres and SQLite; timestamps are
// unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email_sha256 TEXT NOT NULL DEFAULT '',
		phone_sha256 TEXT NOT NULL DEFAULT '',
		engagement_score INTEGER NOT NULL DEFAULT 0,
		lead_status TEXT NOT NULL DEFAULT 'curious',
		disposition TEXT NOT NULL DEFAULT 'new',
		notes TEXT NOT NULL DEFAULT '',
		source_tool TEXT NOT NULL DEFAULT '',
		utm_source TEXT NOT NULL DEFAULT '',
		utm_medium TEXT NOT NULL DEFAULT '',
		utm_campaign TEXT NOT NULL DEFAULT '',
		utm_content TEXT NOT NULL DEFAULT '',
		utm_term TEXT NOT NULL DEFAULT '',
		gclid TEXT NOT NULL DEFAULT '',
		fbclid TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS leads_created_at_idx ON leads (created_at)`,
	`CREATE TABLE IF NOT EXISTS lead_events (
		event_id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		event_name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		page_path TEXT NOT NULL DEFAULT '',
		score_delta INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		occurred_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lead_events_session_idx ON lead_events (lead_id, session_id, event_name)`,
	`CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL DEFAULT '',
		external_id TEXT,
		stage TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		job_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		closed_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS deals_external_id_idx ON deals (external_id)`,
	`CREATE TABLE IF NOT EXISTS ad_spend (
		spend_date TEXT NOT NULL,
		platform TEXT NOT NULL,
		campaign TEXT NOT NULL,
		spend DOUBLE PRECISION NOT NULL DEFAULT 0,
		clicks INTEGER NOT NULL DEFAULT 0,
		impressions INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (spend_date, platform, campaign)
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role)
	)`,
}
