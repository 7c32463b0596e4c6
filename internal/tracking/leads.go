package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/scoring"
	"github.com/AngelCh415/leadscore/internal/telemetry"
	"github.com/AngelCh415/leadscore/internal/validation"
)

const defaultPhoneRegion = "US"

// LeadInput is the public lead form.
type LeadInput struct {
	Name        string `json:"name" validate:"max=200"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Phone       string `json:"phone" validate:"max=32"`
	SourceTool  string `json:"source_tool" validate:"max=64"`
	UTMSource   string `json:"utm_source" validate:"max=128"`
	UTMMedium   string `json:"utm_medium" validate:"max=128"`
	UTMCampaign string `json:"utm_campaign" validate:"max=128"`
	UTMContent  string `json:"utm_content" validate:"max=128"`
	UTMTerm     string `json:"utm_term" validate:"max=128"`
	GCLID       string `json:"gclid" validate:"max=256"`
	FBCLID      string `json:"fbclid" validate:"max=256"`
}

// CaptureLead creates a lead or returns the existing one for the same
// email. created reports which.
func (s *Service) CaptureLead(ctx context.Context, in LeadInput) (lead models.Lead, created bool, err error) {
	in.Email = NormalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return models.Lead{}, false, err
	}
	phone := NormalizePhone(in.Phone)

	lead = models.Lead{
		ID:          uuid.NewString(),
		Email:       in.Email,
		Name:        strings.TrimSpace(in.Name),
		EmailSHA256: hashHex(in.Email),
		LeadStatus:  scoring.StatusCurious,
		Disposition: models.DispositionNew,
		SourceTool:  strings.TrimSpace(in.SourceTool),
		UTMSource:   strings.ToLower(strings.TrimSpace(in.UTMSource)),
		UTMMedium:   strings.TrimSpace(in.UTMMedium),
		UTMCampaign: strings.TrimSpace(in.UTMCampaign),
		UTMContent:  strings.TrimSpace(in.UTMContent),
		UTMTerm:     strings.TrimSpace(in.UTMTerm),
		GCLID:       strings.TrimSpace(in.GCLID),
		FBCLID:      strings.TrimSpace(in.FBCLID),
	}
	if phone != "" {
		lead.Phone = phone
		lead.PhoneSHA256 = hashHex(strings.TrimPrefix(phone, "+"))
	}

	created, err = s.st.CreateLead(ctx, &lead)
	if err != nil {
		return models.Lead{}, false, fmt.Errorf("create lead: %w", err)
	}
	if !created {
		telemetry.LeadsCapturedTotal.WithLabelValues("existing").Inc()
		return lead, false, nil
	}
	telemetry.LeadsCapturedTotal.WithLabelValues("created").Inc()
	s.log.Info("lead captured", slog.String("lead_id", lead.ID), slog.String("source_tool", lead.SourceTool))
	if err := s.pub.PublishLeadCaptured(ctx, lead); err != nil {
		s.log.Warn("publish lead captured", slog.String("lead_id", lead.ID), slog.Any("err", err))
	}
	return lead, true, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone returns phone in E.164 form, reading numbers without a
// country code as US numbers. Extensions are dropped. Unparseable or
// invalid numbers give "".
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	num, err := phonenumbers.Parse(phone, defaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
