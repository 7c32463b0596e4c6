package store

import (
	"context"
	"errors"
	"time"

	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/scoring"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is the persistence boundary shared by the memory and SQL backends.
type Store interface {
	// CreateLead inserts lead unless its email already exists, in which case
	// lead is overwritten with the stored record and created is false.
	CreateLead(ctx context.Context, lead *models.Lead) (created bool, err error)
	GetLead(ctx context.Context, id string) (models.Lead, error)
	FindLeadByEmail(ctx context.Context, email string) (models.Lead, error)
	UpdateLead(ctx context.Context, id string, p LeadPatch) (models.Lead, error)

	// ApplyEvent records ev once per EventID and credits the event's lead
	// with the rule's weight, subject to the per-session cap.
	ApplyEvent(ctx context.Context, ev models.Event, rule scoring.Rule) (ApplyResult, error)
	ListEvents(ctx context.Context, leadID string) ([]models.Event, error)

	CreateDeal(ctx context.Context, d *models.Deal) error
	UpsertDealByExternalID(ctx context.Context, d *models.Deal) error
	GetDeal(ctx context.Context, id string) (models.Deal, error)
	UpdateDeal(ctx context.Context, id string, p DealPatch) (models.Deal, error)

	UpsertSpend(ctx context.Context, rows []models.AdSpend) error
	ListSpend(ctx context.Context, from, to string) ([]models.AdSpend, error)
	LeadCounts(ctx context.Context, from, to time.Time) ([]LeadCount, error)
	WonDeals(ctx context.Context, from, to time.Time) ([]models.AttributedDeal, error)
	OpenDeals(ctx context.Context) ([]models.AttributedDeal, error)

	RolesForUser(ctx context.Context, userID string) ([]string, error)
	GrantRole(ctx context.Context, userID, role string) error

	Ping(ctx context.Context) error
	Close() error
}

type LeadPatch struct {
	Notes       *string
	Disposition *string
}

type DealPatch struct {
	Stage   *string
	Amount  *float64
	JobCost *float64
}

// Outcome of ApplyEvent.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeCapped      Outcome = "capped"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUnknownLead Outcome = "unknown_lead"
	OutcomeAnonymous   Outcome = "anonymous"
)

type ApplyResult struct {
	Outcome    Outcome
	ScoreDelta int
	// Lead is the lead after the event, nil for anonymous or unknown leads.
	Lead           *models.Lead
	PreviousStatus string
}

// StatusChanged reports whether applying the event moved the lead to a new status.
func (r ApplyResult) StatusChanged() bool {
	return r.Lead != nil && r.PreviousStatus != "" && r.PreviousStatus != r.Lead.LeadStatus
}

// LeadCount is the number of leads created for a utm_source/utm_campaign pair.
type LeadCount struct {
	Source   string `db:"utm_source"`
	Campaign string `db:"utm_campaign"`
	Count    int    `db:"n"`
}

// IsOpenStage reports whether a deal in stage is still in the pipeline.
func IsOpenStage(stage string) bool {
	return stage != models.StageWon && stage != models.StageLost
}

// ValidStage reports whether stage is a known deal stage.
func ValidStage(stage string) bool {
	switch stage {
	case models.StageNew, models.StageQuoted, models.StageNegotiating, models.StageWon, models.StageLost:
		return true
	}
	return false
}

// ValidDisposition reports whether d is a known lead disposition.
func ValidDisposition(d string) bool {
	switch d {
	case models.DispositionNew, models.DispositionContacted, models.DispositionQualified,
		models.DispositionWon, models.DispositionLost, models.DispositionArchived:
		return true
	}
	return false
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// applyStage sets Stage and maintains ClosedAt: closing stages stamp it once,
// reopening clears it.
func applyStage(d *models.Deal, stage string, now time.Time) {
	d.Stage = stage
	if IsOpenStage(stage) {
		d.ClosedAt = nil
		return
	}
	if d.ClosedAt == nil {
		t := now
		d.ClosedAt = &t
	}
}
