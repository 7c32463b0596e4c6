package models

import (
	"encoding/json"
	"time"
)

// Lead is a captured visitor. EngagementScore always equals the sum of the
// ScoreDelta of the events recorded against it.
type Lead struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone,omitempty"`
	EmailSHA256     string    `json:"email_sha256"`
	PhoneSHA256     string    `json:"phone_sha256,omitempty"`
	EngagementScore int       `json:"engagement_score"`
	LeadStatus      string    `json:"lead_status"`
	Disposition     string    `json:"disposition"`
	Notes           string    `json:"notes,omitempty"`
	SourceTool      string    `json:"source_tool,omitempty"`
	UTMSource       string    `json:"utm_source"`
	UTMMedium       string    `json:"utm_medium"`
	UTMCampaign     string    `json:"utm_campaign"`
	UTMContent      string    `json:"utm_content,omitempty"`
	UTMTerm         string    `json:"utm_term,omitempty"`
	GCLID           string    `json:"gclid,omitempty"`
	FBCLID          string    `json:"fbclid,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Dispositions are the admin-managed soft states of a lead.
const (
	DispositionNew       = "new"
	DispositionContacted = "contacted"
	DispositionQualified = "qualified"
	DispositionWon       = "won"
	DispositionLost      = "lost"
	DispositionArchived  = "archived"
)

// Event is an append-only record of a tracked action.
type Event struct {
	EventID    string          `json:"event_id"`
	LeadID     string          `json:"lead_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	EventName  string          `json:"event_name"`
	Category   string          `json:"category,omitempty"`
	PagePath   string          `json:"page_path,omitempty"`
	ScoreDelta int             `json:"score_delta"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Event sources.
const (
	SourceTrack  = "track"
	SourceSignal = "signal"
)

// Deal stages.
const (
	StageNew         = "new"
	StageQuoted      = "quoted"
	StageNegotiating = "negotiating"
	StageWon         = "won"
	StageLost        = "lost"
)

type Deal struct {
	ID         string     `json:"id"`
	LeadID     string     `json:"lead_id,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Stage      string     `json:"stage"`
	Amount     float64    `json:"amount"`
	JobCost    float64    `json:"job_cost"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// AdSpend is one day of spend for a platform campaign. Date is YYYY-MM-DD.
type AdSpend struct {
	Date        string  `json:"date"`
	Platform    string  `json:"platform"`
	Campaign    string  `json:"campaign"`
	Spend       float64 `json:"spend"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
}

// AttributedDeal is a deal joined with the attribution fields of its lead.
type AttributedDeal struct {
	Deal
	UTMSource   string `json:"utm_source"`
	UTMCampaign string `json:"utm_campaign"`
}

// RollupKey groups attribution rows.
type RollupKey struct {
	Platform string
	Campaign string
}

// Rollup is the raw accumulation for one group before derived metrics.
type Rollup struct {
	Key         RollupKey
	Spend       float64
	Clicks      int
	Impressions int
	Leads       int
	WonDeals    int
	Revenue     float64
	JobCost     float64
}

// Metrics is a rollup plus derived ratios. Ratios are nil when the
// denominator is zero.
type Metrics struct {
	Platform     string   `json:"platform,omitempty"`
	Campaign     string   `json:"campaign,omitempty"`
	Spend        float64  `json:"spend"`
	Clicks       int      `json:"clicks"`
	Impressions  int      `json:"impressions"`
	Leads        int      `json:"leads"`
	WonDeals     int      `json:"won_deals"`
	Revenue      float64  `json:"revenue"`
	JobCost      float64  `json:"job_cost"`
	GrossProfit  float64  `json:"gross_profit"`
	NetProfit    float64  `json:"net_profit"`
	ROAS         *float64 `json:"roas"`
	CPA          *float64 `json:"cpa"`
	CPC          *float64 `json:"cpc"`
	CVRLeadToWon *float64 `json:"cvr_lead_to_won"`
}

type RevenueDay struct {
	Date     string  `json:"date"`
	WonDeals int     `json:"won_deals"`
	Revenue  float64 `json:"revenue"`
}

type RevenueReport struct {
	From          string       `json:"from"`
	To            string       `json:"to"`
	WonDeals      int          `json:"won_deals"`
	Revenue       float64      `json:"revenue"`
	AvgDealSize   *float64     `json:"avg_deal_size"`
	OpenDeals     int          `json:"open_deals"`
	PipelineValue float64      `json:"pipeline_value"`
	Daily         []RevenueDay `json:"daily"`
}

type ProfitTotals struct {
	Revenue     float64  `json:"revenue"`
	JobCost     float64  `json:"job_cost"`
	GrossProfit float64  `json:"gross_profit"`
	AdSpend     float64  `json:"ad_spend"`
	NetProfit   float64  `json:"net_profit"`
	Margin      *float64 `json:"margin"`
	ROAS        *float64 `json:"roas"`
	CPA         *float64 `json:"cpa"`
	Leads       int      `json:"leads"`
	WonDeals    int      `json:"won_deals"`
}

type ProfitReport struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Totals     ProfitTotals `json:"totals"`
	ByPlatform []Metrics    `json:"by_platform"`
}

type AttributionReport struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	GroupBy string    `json:"group_by"`
	Rows    []Metrics `json:"rows"`
}
